// Minimal end-to-end integration test for the Snowlist API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	baseURL  = getenv("API_URL", "http://localhost:8080/v1")
	redisURL = getenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	runID    = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	ctx := context.Background()
	rdb := mustRedis()
	defer rdb.Close()

	before := scanTokens(ctx, rdb)

	token, userID := authToken()
	repoID := createRepo(token)
	addEmails(token, repoID)

	verifyToken := newToken(ctx, rdb, before)
	verifyEmail(verifyToken)
	verifyReuse(verifyToken) // second claim must 404

	checkKarma(token, userID)
	removeEmail(token, repoID)

	fmt.Println("✓ all endpoints passed")
}

// ----------------------------- auth

func authToken() (string, uint64) {
	var resp struct {
		Token  string
		UserID uint64 `json:"user_id"`
	}
	doJSON("POST", "/auth/token", map[string]any{
		"handle": "smoke-" + runID,
		"email":  "smoke-" + runID + "@example.com",
	}, &resp, http.StatusOK)
	if resp.Token == "" {
		log.Fatal("auth: empty token")
	}
	return resp.Token, resp.UserID
}

// ----------------------------- repositories

func createRepo(tok string) uint64 {
	var resp struct{ ID uint64 }
	doAuth(tok, "POST", "/repositories", map[string]any{
		"slug": "smoke-" + runID,
		"name": "Smoke test list " + runID,
	}, &resp, http.StatusCreated)
	if resp.ID == 0 {
		log.Fatal("repositories: zero id")
	}
	return resp.ID
}

func addEmails(tok string, repoID uint64) {
	addr := fmt.Sprintf("member-%s@example.com", runID)
	var resp struct {
		New       int
		Duplicate []string
	}
	doAuth(tok, "POST", fmt.Sprintf("/repositories/%d/emails", repoID), map[string]any{
		"entries": []map[string]any{
			{"email": addr, "tags": []string{"golang"}},
			{"email": strings.ToUpper(addr)}, // same address, different casing
		},
	}, &resp, http.StatusOK)
	if resp.New != 1 || len(resp.Duplicate) != 1 {
		log.Fatalf("emails: want 1 new 1 duplicate, got %d/%d", resp.New, len(resp.Duplicate))
	}
}

func removeEmail(tok string, repoID uint64) {
	addr := fmt.Sprintf("member-%s@example.com", runID)
	doAuth(tok, "DELETE", fmt.Sprintf("/repositories/%d/emails/%s", repoID, addr), nil, nil, http.StatusOK)
}

// ----------------------------- verification

func verifyEmail(verifyToken string) {
	var resp struct{ Status string }
	doJSON("GET", "/verify/"+verifyToken, nil, &resp, http.StatusOK)
	if resp.Status != "verified" {
		log.Fatalf("verify: want verified, got %q", resp.Status)
	}
}

func verifyReuse(verifyToken string) {
	doJSON("GET", "/verify/"+verifyToken, nil, nil, http.StatusNotFound)
}

// ----------------------------- karma

func checkKarma(tok string, userID uint64) {
	var resp struct {
		Total     int64
		Milestone struct{ Name string }
	}
	doAuth(tok, "GET", fmt.Sprintf("/users/%d/karma", userID), nil, &resp, http.StatusOK)
	if resp.Milestone.Name == "" {
		log.Fatal("karma: missing milestone")
	}
}

// ----------------------------- helpers

func mustRedis() *redis.Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	return redis.NewClient(opt)
}

func scanTokens(ctx context.Context, rdb *redis.Client) map[string]bool {
	seen := make(map[string]bool)
	iter := rdb.Scan(ctx, 0, "verify:*", 0).Iterator()
	for iter.Next(ctx) {
		seen[iter.Val()] = true
	}
	if err := iter.Err(); err != nil {
		log.Fatalf("redis scan: %v", err)
	}
	return seen
}

// newToken finds the verification token the upload just minted by diffing
// the verify:* keyspace against the pre-run snapshot.
func newToken(ctx context.Context, rdb *redis.Client, before map[string]bool) string {
	for key := range scanTokens(ctx, rdb) {
		if !before[key] {
			return strings.TrimPrefix(key, "verify:")
		}
	}
	log.Fatal("verify: no token minted")
	return ""
}

func doAuth(token, method, path string, body, out any, want int) {
	doReq(method, path, token, body, out, want)
}

func doJSON(method, path string, body, out any, want int) {
	doReq(method, path, "", body, out, want)
}

func doReq(method, path, token string, body, out any, want int) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("%s %s encode: %v", method, path, err)
		}
	}
	req, _ := http.NewRequest(method, baseURL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != want {
		log.Fatalf("%s %s: want %d got %d", method, path, want, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			log.Fatalf("%s %s decode: %v", method, path, err)
		}
	}
}
