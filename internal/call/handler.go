// Package call wires together the codec kit, DSP chain, RTP pacer,
// decoder pipeline, AI realtime client, and turn controller into one SIP
// call: C9 in the component breakdown, "the
// glue".
//
// Grounded on the teacher's bridge/service.go (handleIncomingSIP's
// Trying/Ringing/SDP-validate/Answer/media-setup/DTMF-listener/bridge
// sequence, allowCall's active-call counter, authorizeInboundSIP's
// digest auth, sipCallID) and endpoints/sip_endpoint.go (codec
// negotiation via media.CodecAudioFromList / media.CanonicalSDPName),
// adapted from the Telegram media bridge to the AI realtime bridge.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/diago"
	"github.com/emiago/diago/media"
	"github.com/emiago/sipgo/sip"
	msdk "github.com/livekit/media-sdk"
	"github.com/pion/rtp"

	"sipaibridge/internal/audio"
	"sipaibridge/internal/codec"
	"sipaibridge/internal/config"
	"sipaibridge/internal/decoder"
	"sipaibridge/internal/notify"
	"sipaibridge/internal/realtime"
	"sipaibridge/internal/rtpio"
	"sipaibridge/internal/turn"
)

// codecPriority orders codec names best-first, per spec.md §4.9:
// Opus > G.722 > PCMA > PCMU.
var codecPriority = map[string]int{"opus": 0, "g722": 1, "pcma": 2, "pcmu": 3}

// Handler accepts inbound SIP dialogs and bridges each to an AI realtime
// session for the duration of the call.
type Handler struct {
	cfg      config.Config
	sipUA    *diago.Diago
	logger   *slog.Logger
	notifier *notify.Notifier

	activeCalls atomic.Int64
	authServer  *diago.DigestAuthServer
}

// New constructs a Handler. sipUA must already be set up (transports
// added) by the caller, matching the teacher's main()/NewService split.
// notifier may be nil, in which case call lifecycle notifications are
// skipped (notify.Notifier itself also no-ops on an empty webhook URL).
func New(cfg config.Config, sipUA *diago.Diago, logger *slog.Logger, notifier *notify.Notifier) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	var authServer *diago.DigestAuthServer
	if cfg.SIP.AuthUser != "" && cfg.SIP.Password != "" {
		authServer = diago.NewDigestServer()
	}
	return &Handler{cfg: cfg, sipUA: sipUA, logger: logger, notifier: notifier, authServer: authServer}
}

// Start serves inbound SIP dialogs until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	return h.sipUA.Serve(ctx, func(inDialog *diago.DialogServerSession) {
		h.handleIncomingSIP(inDialog)
	})
}

func (h *Handler) handleIncomingSIP(inDialog *diago.DialogServerSession) {
	callStart := time.Now()
	callID := sipCallID(inDialog)
	callLogger := h.logger.With("call_id", callID)

	if err := h.authorize(inDialog, callLogger); err != nil {
		callLogger.Info("call: rejected (auth failed)")
		return
	}
	if !h.allowCall(callLogger) {
		callLogger.Info("call: rejected (busy)")
		_ = inDialog.Respond(sip.StatusBusyHere, "Busy Here", nil)
		return
	}
	defer h.activeCalls.Add(-1)
	defer inDialog.Close()

	h.notifier.Send(inDialog.Context(), "call.started", map[string]any{"call_id": callID})
	defer func() {
		h.notifier.Send(context.Background(), "call.ended", map[string]any{
			"call_id":  callID,
			"duration": time.Since(callStart).String(),
		})
	}()

	if err := inDialog.Trying(); err != nil {
		callLogger.Error("call: trying failed", "error", err)
	}
	if err := inDialog.Ringing(); err != nil {
		callLogger.Error("call: ringing failed", "error", err)
	}

	localPrefs := codecOffer(h.cfg.Audio.EnableDTMF, h.cfg.Audio.FrameDuration)
	if err := inDialog.AnswerOptions(diago.AnswerOptions{Codecs: localPrefs}); err != nil {
		callLogger.Warn("call: answer failed", "error", err)
		return
	}

	neg, err := negotiateMedia(inDialog)
	if err != nil {
		callLogger.Warn("call: media negotiation failed", "error", err)
		return
	}
	callLogger = callLogger.With("codec", neg.kind.String(), "payload_type", neg.payloadType)
	callLogger.Info("call: codec negotiated")

	if err := h.bridgeCall(inDialog.Context(), inDialog.Media(), neg, callID, callLogger); err != nil {
		callLogger.Warn("call: bridge failed", "error", err)
		return
	}

	callLogger.Info("call: ended", "duration", time.Since(callStart).Round(time.Millisecond))
}

// negotiatedMedia captures the outcome of SDP negotiation: which codec
// was picked and the parameters needed to build the decode/encode
// chains and RTP timing.
//
// clockRate and sampleRate differ for exactly one negotiated codec,
// G.722: RFC 3551 fixes its RTP timestamp clock at 8kHz even though the
// encoded audio is sampled at 16kHz, so a 20ms frame advances the RTP
// timestamp by 160 (clockRate-based) while still carrying 320 PCM16
// samples (sampleRate-based). For PCMU/PCMA/Opus the two rates match
// and samplesPerRTPFrame == samplesPerAudioFrame.
type negotiatedMedia struct {
	kind              codec.Kind
	payloadType       uint8
	clockRate         int
	sampleRate        int
	channels          int
	samplesPerRTPFrame   int // RTP timestamp advance per 20ms frame
	samplesPerAudioFrame int // PCM16 samples per 20ms frame, per channel-multiplied below
}

func negotiateMedia(dialog interface {
	MediaSession() *media.MediaSession
}) (negotiatedMedia, error) {
	session := dialog.MediaSession()
	if session == nil {
		return negotiatedMedia{}, errors.New("sip media session not ready")
	}
	var picked media.Codec
	var ok bool
	if commons := session.CommonCodecs(); len(commons) > 0 {
		picked, ok = media.CodecAudioFromList(commons)
	}
	if !ok {
		picked, ok = media.CodecAudioFromList(session.Codecs)
	}
	if !ok {
		return negotiatedMedia{}, errors.New("no audio codec negotiated")
	}

	kind, ok := kindForSDPName(picked.Name)
	if !ok {
		return negotiatedMedia{}, fmt.Errorf("unsupported negotiated codec %q", picked.Name)
	}

	clockRate := kind.ClockRate()
	sampleRate := kind.SampleRate()
	channels := picked.NumChannels
	if channels < 1 {
		channels = 1
	}

	return negotiatedMedia{
		kind:                 kind,
		payloadType:          uint8(picked.PayloadType),
		clockRate:            clockRate,
		sampleRate:           sampleRate,
		channels:             channels,
		samplesPerRTPFrame:   clockRate / 50,
		samplesPerAudioFrame: sampleRate / 50,
	}, nil
}

func kindForSDPName(name string) (codec.Kind, bool) {
	switch strings.ToLower(name) {
	case "opus":
		return codec.Opus, true
	case "g722":
		return codec.G722, true
	case "pcma":
		return codec.PCMA, true
	case "pcmu":
		return codec.PCMU, true
	default:
		return codec.Unknown, false
	}
}

// CodecOffer builds the SDP codec offer ordered Opus > G.722 > PCMA >
// PCMU, reading the enabled set from media-sdk's self-registered codec
// registry (the teacher's SIPCodecs draws from the same registry, via
// msdk.EnabledCodecs(), but sorts static-first; this bridge instead
// sorts by the fixed voice-quality priority spec.md §4.9 requires).
// Exported so cmd/sip-ai-bridge can pass it to diago.WithMediaConfig at
// UA construction time, the same call site the teacher's SIPCodecs
// serves for diago.MediaConfig.Codecs.
func CodecOffer(cfg config.Config) []media.Codec {
	return codecOffer(cfg.Audio.EnableDTMF, cfg.Audio.FrameDuration)
}

func codecOffer(enableDTMF bool, frameDuration time.Duration) []media.Codec {
	enabled := msdk.EnabledCodecs()
	type ranked struct {
		info msdk.Codec
		rank int
	}
	var ranked_ []ranked
	for _, c := range enabled {
		info := c.Info()
		name := strings.ToLower(strings.SplitN(info.SDPName, "/", 2)[0])
		if strings.HasPrefix(strings.ToLower(info.SDPName), "telephone-event/") {
			if !enableDTMF {
				continue
			}
			ranked_ = append(ranked_, ranked{info: c, rank: 100})
			continue
		}
		rank, ok := codecPriority[name]
		if !ok {
			continue
		}
		ranked_ = append(ranked_, ranked{info: c, rank: rank})
	}
	for i := 1; i < len(ranked_); i++ {
		for j := i; j > 0 && ranked_[j].rank < ranked_[j-1].rank; j-- {
			ranked_[j], ranked_[j-1] = ranked_[j-1], ranked_[j]
		}
	}

	usedPT := map[uint8]bool{}
	nextDynamic := uint8(101)
	allocDynamic := func() uint8 {
		for usedPT[nextDynamic] {
			nextDynamic++
		}
		pt := nextDynamic
		nextDynamic++
		return pt
	}

	codecs := make([]media.Codec, 0, len(ranked_))
	for _, r := range ranked_ {
		info := r.info.Info()
		dc, ok := media.CodecFromSDPName(info.SDPName, 0, frameDuration)
		if !ok {
			continue
		}
		pt := uint8(0)
		if info.RTPIsStatic {
			pt = info.RTPDefType
		} else {
			pt = allocDynamic()
		}
		if usedPT[pt] {
			continue
		}
		usedPT[pt] = true
		dc.PayloadType = pt
		codecs = append(codecs, dc)
	}
	return codecs
}

func (h *Handler) allowCall(logger *slog.Logger) bool {
	if h.cfg.SIP.MaxActiveCalls <= 0 {
		h.activeCalls.Add(1)
		return true
	}
	for {
		current := h.activeCalls.Load()
		if current >= int64(h.cfg.SIP.MaxActiveCalls) {
			logger.Warn("call: active call limit reached", "max", h.cfg.SIP.MaxActiveCalls)
			return false
		}
		if h.activeCalls.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (h *Handler) authorize(dialog *diago.DialogServerSession, logger *slog.Logger) error {
	if h.authServer == nil {
		return nil
	}
	auth := diago.DigestAuth{
		Username: h.cfg.SIP.AuthUser,
		Password: h.cfg.SIP.Password,
		Realm:    h.cfg.SIP.AuthRealm,
	}
	if err := h.authServer.AuthorizeDialog(dialog, auth); err != nil {
		logger.Warn("call: sip auth failed", "error", err)
		return err
	}
	return nil
}

func sipCallID(dialog diago.DialogSession) string {
	if dialog == nil {
		return ""
	}
	req := dialog.DialogSIP().InviteRequest
	if req == nil || req.CallID() == nil {
		return ""
	}
	return req.CallID().Value()
}

// bridgeCall wires the per-call pipeline: decoder -> uplink -> AI, AI ->
// downlink -> pacer -> RTP egress, all coordinated by a turn controller.
// It blocks until the call ends (dialog context cancelled, or the AI
// socket closed or failed), then tears everything down
// in the order spec.md §5 specifies and guarantees is idempotent.
func (h *Handler) bridgeCall(ctx context.Context, dialogMedia *diago.DialogMedia, neg negotiatedMedia, callID string, logger *slog.Logger) error {
	rtpReader := dialogMedia.RTPPacketReader.Reader()
	rtpWriter := dialogMedia.RTPPacketWriter.Writer()
	if rtpReader == nil || rtpWriter == nil {
		return errors.New("call: rtp reader/writer not available")
	}

	egressCodec, err := codec.New(neg.kind, neg.channels)
	if err != nil {
		return err
	}
	egressResampler := codec.NewResampler(h.cfg.AI.SampleRateOrDefault(), neg.sampleRate)

	silenceFramePCM := make([]int16, neg.samplesPerAudioFrame*neg.channels)
	silence, err := egressCodec.Encode(silenceFramePCM)
	if err != nil {
		return fmt.Errorf("call: failed to build silence frame: %w", err)
	}

	pacer := rtpio.NewPacer(rtpWriter, neg.payloadType, neg.samplesPerRTPFrame, silence)

	aiSampleRate := h.cfg.AI.SampleRateOrDefault()
	uplink := audio.NewUplink()
	downlink := audio.NewDownlink(aiSampleRate)

	descriptors := map[uint8]codec.Descriptor{
		neg.payloadType: {Kind: neg.kind, PayloadType: neg.payloadType, ClockRate: neg.clockRate, SampleRate: neg.sampleRate, Channels: neg.channels},
	}
	pipeline := decoder.NewPipeline(descriptors, aiSampleRate, uplink)

	ctrl := turn.New(ctx, nil, pacer, downlink, logger)

	// callCtx ends when the dialog ends or the AI socket goes away,
	// whichever happens first.
	callCtx, endCall := context.WithCancel(ctx)
	defer endCall()

	handlers := realtime.Handlers{
		OnResponseCreated: ctrl.OnResponseCreated,
		OnResponseDone: func() {
			ctrl.OnResponseDone()
			downlink.Close()
		},
		OnAudioDelta: func(pcm []byte) {
			downlink.Feed(pcm)
		},
		OnTranscriptDelta:        ctrl.OnTranscriptDelta,
		OnTranscriptDone:         ctrl.OnTranscriptDone,
		OnSpeechStarted:          ctrl.OnSpeechStarted,
		OnSpeechStopped:          ctrl.OnSpeechStopped,
		OnTranscriptionCompleted: ctrl.OnTranscriptionCompleted,
		OnError:                  ctrl.OnError,
		OnDisconnect:             func(err error) { ctrl.OnSocketDisconnect(err); endCall() },
	}

	rt, err := realtime.Dial(ctx, realtime.Config{
		URL:          h.cfg.AI.WSURL,
		Mode:         aiMode(h.cfg.AI.Mode),
		APIKey:       h.cfg.AI.APIKey,
		CallerID:     callID,
		Model:        h.cfg.AI.Model,
		Voice:        h.cfg.AI.Voice,
		Instructions: h.cfg.AI.SystemPrompt,
	}, handlers)
	if err != nil {
		return fmt.Errorf("call: ai dial failed: %w", err)
	}
	ctrl.AttachClient(rt)

	var wg sync.WaitGroup
	runCtx, cancelRun := context.WithCancel(ctx)

	wg.Add(1)
	go func() { defer wg.Done(); ctrl.Run() }()
	wg.Add(1)
	go func() { defer wg.Done(); pacer.Run(runCtx) }()
	wg.Add(1)
	go func() { defer wg.Done(); h.ingressLoop(runCtx, rtpReader, pipeline, ctrl, neg, logger) }()
	wg.Add(1)
	go func() { defer wg.Done(); h.uplinkPump(runCtx, uplink, rt, logger) }()
	wg.Add(1)
	go func() { defer wg.Done(); h.downlinkPump(runCtx, downlink, pacer, egressCodec, egressResampler, neg.channels) }()

	ctrl.SendGreeting(h.cfg.AI.SystemPrompt)

	<-callCtx.Done()

	// Shutdown sequence per spec.md §5: controller -> ingress -> pacer ->
	// AI socket (bounded close handshake) -> media session. Every step
	// here is already idempotent (Stop/Disconnect/Close all guard with
	// sync.Once or nil checks), so this runs safely even if ctx was
	// already done on entry.
	ctrl.Stop()
	cancelRun()
	disconnected := make(chan struct{})
	go func() { _ = rt.Disconnect(); close(disconnected) }()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		logger.Warn("call: ai socket close handshake timed out")
	}
	wg.Wait()

	return nil
}

func (h *Handler) ingressLoop(ctx context.Context, reader media.RTPReader, pipeline *decoder.Pipeline, ctrl *turn.Controller, neg negotiatedMedia, logger *slog.Logger) {
	buf := make([]byte, media.RTPBufSize)
	pkt := &rtp.Packet{}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		*pkt = rtp.Packet{}
		_, err := reader.ReadRTP(buf, pkt)
		if err != nil {
			return
		}
		if uint8(pkt.PayloadType) != neg.payloadType || len(pkt.Payload) == 0 {
			continue
		}
		payload := append([]byte(nil), pkt.Payload...)
		aiSpeaking := ctrl.Snapshot().ResponseActive
		bargeIn, err := pipeline.HandleRTP(pkt.SequenceNumber, pkt.Timestamp, neg.payloadType, payload, aiSpeaking)
		if err != nil {
			logger.Warn("call: decode failed, dropping packet", "error", err)
			continue
		}
		if bargeIn {
			ctrl.ReportBargeIn()
		}
	}
}

func (h *Handler) uplinkPump(ctx context.Context, uplink *audio.BoundedStream[audio.Frame], rt *realtime.Client, logger *slog.Logger) {
	for {
		frame, ok := uplink.Get(ctx)
		if !ok {
			return
		}
		if err := rt.AppendAudio(audio.PCM16ToBytes(frame.PCM)); err != nil {
			logger.Warn("call: uplink append failed", "error", err)
		}
	}
}

func (h *Handler) downlinkPump(ctx context.Context, downlink *audio.Downlink, pacer *rtpio.Pacer, enc *codec.Codec, resampler *codec.Resampler, channels int) {
	stream := downlink.Stream()
	for {
		frame, ok := stream.Get(ctx)
		if !ok {
			return
		}
		pcm := frame.PCM
		if resampler != nil {
			pcm = resampler.Resample(pcm)
		}
		if channels == 2 {
			pcm = codec.ExpandMonoToStereo(pcm)
		}
		payload, err := enc.Encode(pcm)
		if err != nil {
			continue
		}
		pacer.Enqueue(payload)
	}
}

func aiMode(mode string) realtime.Mode {
	if strings.EqualFold(mode, "direct") {
		return realtime.ModeDirect
	}
	return realtime.ModeEdge
}
