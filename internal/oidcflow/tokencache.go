package oidcflow

import (
	"strings"
	"time"

	"github.com/nioca/ca/internal/metrics"
)

// accessTokenCacheTTL is how long a userinfo-confirmed access token outcome
// is trusted before the next request re-validates against the provider.
const accessTokenCacheTTL = 30 * time.Second

type cacheEntry struct {
	claims    map[string]interface{}
	err       error
	expiresAt time.Time
}

type getMsg struct {
	sig   string
	reply chan cacheEntry
}

type setMsg struct {
	sig   string
	entry cacheEntry
}

// TokenCache is a single-goroutine owner of the access-token validation
// outcome cache: one task answers Get/Set/Exit messages over channels
// (Set's is buffered to 64), so cache state never needs a mutex. Keyed by the token's
// signature segment, since the same signature implies the same token.
type TokenCache struct {
	get  chan getMsg
	set  chan setMsg
	exit chan chan struct{}
}

func NewTokenCache() *TokenCache {
	c := &TokenCache{
		get:  make(chan getMsg),
		set:  make(chan setMsg, 64),
		exit: make(chan chan struct{}),
	}
	go c.run()
	return c
}

func (c *TokenCache) run() {
	entries := map[string]cacheEntry{}
	for {
		select {
		case msg := <-c.get:
			e, ok := entries[msg.sig]
			if ok && time.Now().After(e.expiresAt) {
				delete(entries, msg.sig)
				ok = false
			}
			if ok {
				metrics.OIDCTokenCache.WithLabelValues("hit").Inc()
				msg.reply <- e
			} else {
				metrics.OIDCTokenCache.WithLabelValues("miss").Inc()
				msg.reply <- cacheEntry{}
			}
		case msg := <-c.set:
			entries[msg.sig] = msg.entry
		case ack := <-c.exit:
			close(ack)
			return
		}
	}
}

// Get returns the cached outcome for a token's signature segment, if any
// and still fresh.
func (c *TokenCache) Get(sig string) (claims map[string]interface{}, err error, found bool) {
	reply := make(chan cacheEntry, 1)
	c.get <- getMsg{sig: sig, reply: reply}
	e := <-reply
	if e.expiresAt.IsZero() {
		return nil, nil, false
	}
	return e.claims, e.err, true
}

// Set stores a fresh outcome for sig, valid for accessTokenCacheTTL.
func (c *TokenCache) Set(sig string, claims map[string]interface{}, err error) {
	c.set <- setMsg{sig: sig, entry: cacheEntry{claims: claims, err: err, expiresAt: time.Now().Add(accessTokenCacheTTL)}}
}

// Exit stops the owning goroutine and blocks until it has returned.
// Flow.Close calls it at shutdown.
func (c *TokenCache) Exit() {
	ack := make(chan struct{})
	c.exit <- ack
	<-ack
}

// sigSegment returns the third dot-delimited segment of a compact JWT,
// used as the cache key so two presentations of the same token collide.
func sigSegment(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return token
	}
	return parts[2]
}
