package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
	"github.com/redhat-et/obo-delegation-demo/pkg/metrics"
	"github.com/redhat-et/obo-delegation-demo/pkg/telemetry"
)

// Defaults applied by NewBroker for zero or negative BrokerConfig fields
const (
	DefaultCeiling      = 4 * time.Minute
	DefaultSafetyMargin = 30 * time.Second
)

// BrokerConfig controls how long exchanged tokens are reused
type BrokerConfig struct {
	// Ceiling caps how long any token is cached
	Ceiling time.Duration
	// SafetyMargin is subtracted so a cached token is never used close to its
	// expiry. It is always positive after NewBroker.
	SafetyMargin time.Duration
	// Timeout bounds a single exchange, independent of any caller's deadline
	Timeout time.Duration
}

// Broker resolves audience-scoped tokens on behalf of a user, exchanging
// the subject token at most once per (subject, audience) within the cache window.
type Broker struct {
	exchanger Exchanger
	cache     Cache
	group     singleflight.Group
	cfg       BrokerConfig
	log       *logger.Logger
}

// NewBroker wires an exchanger to a cache
func NewBroker(exchanger Exchanger, cache Cache, cfg BrokerConfig, log *logger.Logger) *Broker {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Broker{
		exchanger: exchanger,
		cache:     cache,
		cfg:       cfg,
		log:       log,
	}
}

// EffectiveTTL is min(ceiling, expiresIn) minus margin. expiresIn of 0 means
// the identity provider reported no lifetime and only the ceiling applies.
// A result of zero or less means the token must not be cached.
func EffectiveTTL(ceiling, expiresIn, margin time.Duration) time.Duration {
	ttl := ceiling
	if expiresIn > 0 && expiresIn < ttl {
		ttl = expiresIn
	}
	return ttl - margin
}

// hashKey digests a Key with each part length-prefixed, so distinct
// (subject, audience) pairs never share a digest.
func hashKey(key Key) string {
	h := sha256.New()
	var n [8]byte
	for _, part := range []string{key.SubjectToken, key.Audience} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// flightKey hashes the cache key for singleflight so tokens are not retained as map keys
func flightKey(key Key) string {
	return hashKey(key)
}

// Resolve returns a token for audience acting on behalf of the holder of
// subjectToken. Failures are *Error and are never cached.
func (b *Broker) Resolve(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error) {
	ctx, span := telemetry.StartSpan(ctx, "exchange.resolve", telemetry.AttrAudience.String(audience))
	defer span.End()

	key := Key{SubjectToken: subjectToken, Audience: audience}

	if token, ok := b.cache.Get(ctx, key); ok {
		metrics.ExchangeCacheRequests.WithLabelValues(audience, "hit").Inc()
		span.SetAttributes(telemetry.AttrCacheResult.String("hit"))
		b.log.Cache("Cache hit", "audience", audience)
		telemetry.SetSpanOK(span)
		return token, nil
	}
	metrics.ExchangeCacheRequests.WithLabelValues(audience, "miss").Inc()
	span.SetAttributes(telemetry.AttrCacheResult.String("miss"))
	b.log.Cache("Cache miss", "audience", audience)

	// The flight outlives any single caller so that one cancelled request
	// does not fail the others waiting on the same key.
	flightCtx := context.WithoutCancel(ctx)
	ch := b.group.DoChan(flightKey(key), func() (any, error) {
		return b.exchangeAndStore(flightCtx, key)
	})

	select {
	case res := <-ch:
		span.SetAttributes(telemetry.AttrShared.Bool(res.Shared))
		if res.Err != nil {
			telemetry.SetSpanError(span, res.Err)
			return nil, res.Err
		}
		telemetry.SetSpanOK(span)
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		err := failed(0, "resolution abandoned by caller", ctx.Err())
		telemetry.SetSpanError(span, err)
		return nil, err
	}
}

// exchangeAndStore runs inside a singleflight call
func (b *Broker) exchangeAndStore(ctx context.Context, key Key) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	// A flight for this key may have finished between our miss and now.
	if token, ok := b.cache.Get(ctx, key); ok {
		return token, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "exchange.idp", telemetry.AttrAudience.String(key.Audience))
	defer span.End()

	b.log.Exchange(key.Audience, "Exchanging subject token")
	start := time.Now()
	token, err := b.exchanger.Exchange(ctx, key.SubjectToken, key.Audience)
	metrics.TokenExchangeDuration.WithLabelValues(key.Audience).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.TokenExchanges.WithLabelValues(key.Audience, "error").Inc()
		var exErr *Error
		if !errors.As(err, &exErr) {
			exErr = failed(0, err.Error(), err)
		}
		span.SetAttributes(telemetry.AttrIdPStatus.Int(exErr.Status))
		telemetry.SetSpanError(span, exErr)
		b.log.Deny("Token exchange failed",
			"audience", key.Audience,
			"status", exErr.Status,
			"detail", exErr.Detail)
		return nil, exErr
	}
	metrics.TokenExchanges.WithLabelValues(key.Audience, "success").Inc()
	telemetry.SetSpanOK(span)

	ttl := EffectiveTTL(b.cfg.Ceiling, ExpiresIn(token), b.cfg.SafetyMargin)
	if ttl > 0 {
		b.cache.Put(ctx, key, token, ttl)
		b.log.Exchange(key.Audience, "Exchanged token cached", "ttl", ttl)
	} else {
		b.log.Exchange(key.Audience, "Exchanged token too short-lived to cache",
			"expires_in", ExpiresIn(token))
	}

	return token, nil
}

// Invalidate drops the cached token for (subjectToken, audience), for
// example after the downstream reports it revoked.
func (b *Broker) Invalidate(ctx context.Context, subjectToken, audience string) {
	b.cache.Evict(ctx, Key{SubjectToken: subjectToken, Audience: audience})
	b.log.Cache("Invalidated cached token", "audience", audience)
}
