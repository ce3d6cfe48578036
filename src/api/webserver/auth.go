package webserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/snowlist/snowlist/src/api/types"
)

type Auth struct {
	db        *gorm.DB
	jwtSecret []byte
}

func NewAuth(db *gorm.DB, secret []byte) Auth {
	return Auth{db: db, jwtSecret: secret}
}

// Token exchanges a handle/email pair for a session token, creating the
// account on first sight. Session management proper lives outside this
// core; the endpoint exists so the API is usable standalone.
func (a Auth) Token(c *gin.Context) {
	var req struct {
		Handle string `json:"handle" binding:"required,min=2,max=64"`
		Email  string `json:"email"  binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	var user types.User
	err := a.db.First(&user, "handle = ?", req.Handle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = types.User{Handle: req.Handle, Email: req.Email, Role: "member"}
		err = a.db.Create(&user).Error
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	token, err := issueJWT(user, a.jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": user.ID})
}

func issueJWT(user types.User, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":  user.ID,
		"role": user.Role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString(secret)
}
