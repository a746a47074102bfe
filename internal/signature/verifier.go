// Package signature проверяет HMAC-подписи вебхуков над сырым телом запроса.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/domain"
	"go.uber.org/zap"
)

// AlgorithmSHA256: единственный поддерживаемый алгоритм (256-битный keyed hash).
const AlgorithmSHA256 = "sha256"

// Причины отказа. Возвращаются вызывающему как есть.
const (
	ReasonMissingParameters = "missing parameters"
	ReasonInvalidFormat     = "invalid signature format"
	ReasonLengthMismatch    = "signature length mismatch"
	ReasonHashMismatch      = "hash mismatch"
	ReasonExpired           = "signature expired"
	ReasonFromFuture        = "signature timestamp in the future"
)

// DefaultMaxAge и DefaultFutureTolerance ограничивают окно replay-атаки.
const (
	DefaultMaxAge          = 5 * time.Minute
	DefaultFutureTolerance = 60 * time.Second
)

var headerPattern = regexp.MustCompile(`^([a-z0-9]+)=([a-f0-9]+)$`)

// Result: итог проверки подписи.
type Result struct {
	Valid  bool
	Reason string
	Record *domain.SignatureRecord
}

// Verifier проверяет подписи и пишет security-аудит при несовпадении хеша.
type Verifier struct {
	auditor         audit.Auditor
	logger          *zap.Logger
	maxAge          time.Duration
	futureTolerance time.Duration
	now             func() time.Time
}

type Option func(*Verifier)

// WithMaxAge задает максимальный возраст подписи для VerifyFresh.
func WithMaxAge(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.maxAge = d
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(auditor audit.Auditor, logger *zap.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		auditor:         auditor,
		logger:          logger.Named("signature"),
		maxAge:          DefaultMaxAge,
		futureTolerance: DefaultFutureTolerance,
		now:             time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// ParseHeader разбирает заголовок вида "algorithm=hexdigest".
func ParseHeader(header string) (*domain.SignatureRecord, error) {
	m := headerPattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, ReasonInvalidFormat)
	}
	return &domain.SignatureRecord{Algorithm: m[1], Digest: m[2]}, nil
}

// Sign считает подпись в формате заголовка X-Hub-Signature-256.
func Sign(payload []byte, secret string) string {
	return AlgorithmSHA256 + "=" + hex.EncodeToString(digest(payload, secret))
}

func digest(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// Verify проверяет подпись над payload ровно в том виде, в каком он пришел.
// Повторная сериализация разобранной структуры ломает дайджест, поэтому на вход — только сырые байты.
func (v *Verifier) Verify(payload []byte, header, secret string) Result {
	if len(payload) == 0 || secret == "" {
		return Result{Reason: ReasonMissingParameters}
	}

	rec, err := ParseHeader(header)
	if err != nil {
		return Result{Reason: ReasonInvalidFormat}
	}
	if rec.Algorithm != AlgorithmSHA256 {
		return Result{Reason: "unsupported algorithm: " + rec.Algorithm, Record: rec}
	}

	provided, err := hex.DecodeString(rec.Digest)
	if err != nil {
		return Result{Reason: ReasonInvalidFormat, Record: rec}
	}
	expected := digest(payload, secret)

	// Разная длина — отказ сразу, без входа в constant-time сравнение
	if len(provided) != len(expected) {
		return Result{Reason: ReasonLengthMismatch, Record: rec}
	}

	if !hmac.Equal(provided, expected) {
		v.logger.Warn("webhook signature mismatch", zap.String("algorithm", rec.Algorithm))
		if v.auditor != nil {
			v.auditor.Log(audit.Event{
				Kind:     audit.KindSecurity,
				Category: audit.CategorySignatureFailed,
				Status:   "REJECTED",
				Reason:   ReasonHashMismatch,
			})
		}
		return Result{Reason: ReasonHashMismatch, Record: rec}
	}

	return Result{Valid: true, Record: rec}
}

// VerifyFresh дополнительно ограничивает возраст подписи.
func (v *Verifier) VerifyFresh(payload []byte, header, secret string, sentAt time.Time) Result {
	res := v.Verify(payload, header, secret)
	if !res.Valid || sentAt.IsZero() {
		return res
	}

	now := v.now()
	if now.Sub(sentAt) > v.maxAge {
		return Result{Reason: ReasonExpired, Record: res.Record}
	}
	if sentAt.Sub(now) > v.futureTolerance {
		return Result{Reason: ReasonFromFuture, Record: res.Record}
	}
	return res
}
