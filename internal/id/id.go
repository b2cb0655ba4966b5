// Package id generates the tagged identifiers used throughout §3's data
// model: agent_, af_ (API key), job_, msg_, wh_, sched_.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// rawLen is the random-part length for a generated identifier: 24
// characters of this alphabet, after the domain's tag prefix.
const rawLen = 24

// New returns "<prefix><24-char nanoid>", e.g. New("agent_") -> "agent_Xk3...".
func New(prefix string) string {
	raw, err := gonanoid.Generate(alphabet, rawLen)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return prefix + raw
}

// Prefixes for every tagged entity named in §3.
const (
	PrefixAgent    = "agent_"
	PrefixAPIKey   = "af_"
	PrefixJob      = "job_"
	PrefixMessage  = "msg_"
	PrefixWebhook  = "wh_"
	PrefixSchedule = "sched_"
)

// NewAPIKey returns a 32+ character cleartext API key, prefix af_, per §4.B.
// It uses a longer random part than New() since the key itself (not just
// its identifier) is the secret.
func NewAPIKey() string {
	raw, err := gonanoid.Generate(alphabet, 40)
	if err != nil {
		panic(fmt.Sprintf("generate api key: %v", err))
	}
	return PrefixAPIKey + raw
}
