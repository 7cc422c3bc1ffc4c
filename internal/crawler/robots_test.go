package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/aranea/internal/common"
)

func TestRobotsCacheDisallowedPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rc := NewRobotsCache(server.Client(), time.Hour, common.GetLogger())
	ctx := context.Background()

	assert.True(t, rc.CanFetch(ctx, server.URL+"/public/page", "TestBot/1.0"))
	assert.False(t, rc.CanFetch(ctx, server.URL+"/private/page", "TestBot/1.0"))
	assert.False(t, rc.CanFetch(ctx, server.URL+"/private", "TestBot/1.0"))
}

func TestRobotsCacheFetchesOncePerTTL(t *testing.T) {
	var fetches int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches++
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
		}
	}))
	defer server.Close()

	rc := NewRobotsCache(server.Client(), time.Hour, common.GetLogger())
	ctx := context.Background()

	rc.CanFetch(ctx, server.URL+"/a", "TestBot/1.0")
	rc.CanFetch(ctx, server.URL+"/b", "TestBot/1.0")
	rc.CanFetch(ctx, server.URL+"/private", "TestBot/1.0")

	assert.Equal(t, 1, fetches)
}

func TestRobotsCacheFailOpenOnNetworkError(t *testing.T) {
	// Closed server: fetching robots.txt fails, crawling is allowed
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	rc := NewRobotsCache(&http.Client{Timeout: time.Second}, time.Hour, common.GetLogger())
	assert.True(t, rc.CanFetch(context.Background(), serverURL+"/anything", "TestBot/1.0"))
}

func TestRobotsCacheNotFoundAllowsAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	rc := NewRobotsCache(server.Client(), time.Hour, common.GetLogger())
	assert.True(t, rc.CanFetch(context.Background(), server.URL+"/private", "TestBot/1.0"))
}

func TestRobotsCacheAgentSpecificRules(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: BadBot\nDisallow: /\n\nUser-agent: *\nDisallow:\n"))
		}
	}))
	defer server.Close()

	rc := NewRobotsCache(server.Client(), time.Hour, common.GetLogger())
	ctx := context.Background()

	assert.False(t, rc.CanFetch(ctx, server.URL+"/page", "BadBot"))
	assert.True(t, rc.CanFetch(ctx, server.URL+"/page", "GoodBot"))
}
