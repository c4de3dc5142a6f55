package call

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipaibridge/internal/codec"
	"sipaibridge/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKindForSDPName(t *testing.T) {
	cases := []struct {
		name string
		want codec.Kind
		ok   bool
	}{
		{"opus", codec.Opus, true},
		{"Opus", codec.Opus, true},
		{"g722", codec.G722, true},
		{"G722", codec.G722, true},
		{"pcma", codec.PCMA, true},
		{"pcmu", codec.PCMU, true},
		{"telephone-event", codec.Unknown, false},
		{"", codec.Unknown, false},
	}
	for _, c := range cases {
		got, ok := kindForSDPName(c.name)
		assert.Equal(t, c.ok, ok, "name=%q", c.name)
		if c.ok {
			assert.Equal(t, c.want, got, "name=%q", c.name)
		}
	}
}

func TestSipCallIDNilDialogReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", sipCallID(nil))
}

func TestCodecOfferOrdersByPriorityAndAssignsPayloadTypes(t *testing.T) {
	codecs := codecOffer(true, 20*time.Millisecond)
	require.NotEmpty(t, codecs, "the registered media-sdk codec set should yield at least one offer")

	seenRank := -1
	seenPT := map[uint8]bool{}
	for _, c := range codecs {
		name := strings.ToLower(c.Name)
		if rank, ok := codecPriority[name]; ok {
			require.GreaterOrEqual(t, rank, seenRank, "codecs must be offered in best-first priority order")
			seenRank = rank
		}
		assert.False(t, seenPT[c.PayloadType], "payload type %d assigned to more than one codec", c.PayloadType)
		seenPT[c.PayloadType] = true
	}
}

func TestCodecOfferOmitsDTMFWhenDisabled(t *testing.T) {
	withDTMF := codecOffer(true, 20*time.Millisecond)
	withoutDTMF := codecOffer(false, 20*time.Millisecond)
	assert.GreaterOrEqual(t, len(withDTMF), len(withoutDTMF))
	for _, c := range withoutDTMF {
		assert.False(t, strings.HasPrefix(strings.ToLower(c.Name), "telephone-event"), "telephone-event offered with DTMF disabled")
	}
}

func TestAllowCallUnlimitedWhenMaxIsZero(t *testing.T) {
	h := &Handler{cfg: config.Config{}}
	for i := 0; i < 5; i++ {
		assert.True(t, h.allowCall(testLogger()))
	}
}

func TestAllowCallEnforcesMaxActiveCalls(t *testing.T) {
	h := &Handler{cfg: config.Config{SIP: config.SIPConfig{MaxActiveCalls: 2}}}
	assert.True(t, h.allowCall(testLogger()))
	assert.True(t, h.allowCall(testLogger()))
	assert.False(t, h.allowCall(testLogger()), "a third call should be rejected once the limit is reached")
}

func TestAuthorizeNoopWithoutAuthServer(t *testing.T) {
	h := &Handler{cfg: config.Config{}}
	err := h.authorize(nil, testLogger())
	assert.NoError(t, err)
}
