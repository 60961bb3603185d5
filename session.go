package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"time"
)

// session is the per-connection translator: one V2 downstream device, one
// V1 upstream pool, and all the state that bridges them (spec.md §4.4).
// It is single-owner: only the main loop goroutine touches translator
// state directly, so no locking is needed here (spec.md §5 "Shared
// resources").
type session struct {
	id string

	v2     v2FrameTransport
	v2conn net.Conn
	v1r    *v1Reader
	v1w    *v1Writer
	v1conn net.Conn

	state translatorState

	device           deviceInfo
	usedVersion      uint16
	versionRollBits  uint32 // SetupConnection flags as sent by the device; echoed in SetupConnectionSuccess

	// V1 session state
	v1Subscribed       bool
	v1Authorized       bool
	v1ExtraNonce1      []byte
	v1ExtraNonce2Size  int
	v1Difficulty       float64
	v1VersionRollMask  uint32 // mask granted by upstream mining.configure, 0 if none
	v1ConfigureSeen    bool
	v1User             string

	channels      map[uint32]*channelState
	nextChannelID uint32

	pendingOpens []pendingOpenChannel // queued OpenStandardMiningChannel requests awaiting V1 authorize

	v1PendingByID map[uint64]v1Pending
	v1NextID      uint64

	outV1 chan v1Request
	outV2 chan []byte

	maxFramePayload int
	idleTimeout     time.Duration

	metrics *proxyMetrics
}

type pendingOpenChannel struct {
	reqID           uint32
	user            string
	nominalHashrate float32
	maxTarget       uint256Bytes
}

type v1PendingKind int

const (
	v1PendingSubscribe v1PendingKind = iota
	v1PendingConfigure
	v1PendingAuthorize
	v1PendingSubmit
)

type v1Pending struct {
	kind      v1PendingKind
	channelID uint32
	seqNum    uint32
	reqID     uint32 // OpenStandardMiningChannel req_id, for authorize correlation
	user      string
}

func newSession(id string, v2 v2FrameTransport, v2conn net.Conn, v1conn net.Conn, metrics *proxyMetrics, maxFramePayload, queueCap int, idleTimeout time.Duration) *session {
	return &session{
		id:              id,
		v2:              v2,
		v2conn:          v2conn,
		v1r:             newV1Reader(v1conn),
		v1w:             newV1Writer(v1conn),
		v1conn:          v1conn,
		state:           stateAwaitSetup,
		channels:        make(map[uint32]*channelState),
		v1PendingByID:   make(map[uint64]v1Pending),
		outV1:           make(chan v1Request, queueCap),
		outV2:           make(chan []byte, queueCap),
		maxFramePayload: maxFramePayload,
		idleTimeout:     idleTimeout,
		metrics:         metrics,
	}
}

// run drives the session to completion: spawns V1-send/V2-send subtasks
// and the main translate loop (spec.md §4.5/§5). It returns when the
// session ends, for any reason; the caller is responsible for closing both
// sockets afterward.
func (s *session) run() error {
	errCh := make(chan error, 4)
	inV1 := make(chan v1Line, 1)
	inV2 := make(chan sv2Frame, 1)

	go s.sendV1Loop(errCh)
	go s.sendV2Loop(errCh)
	go s.readV1Loop(inV1, errCh)
	go s.readV2Loop(inV2, errCh)

	defer close(s.outV1)
	defer close(s.outV2)

	for {
		select {
		case line := <-inV1:
			if err := s.handleV1Line(line); err != nil {
				return err
			}
		case frame := <-inV2:
			if err := s.handleV2Frame(frame); err != nil {
				return err
			}
		case err := <-errCh:
			return err
		case <-time.After(s.idleTimeout):
			return fmt.Errorf("%w: no activity for %s", ErrTimeout, s.idleTimeout)
		}
		if s.state == stateClosing {
			return nil
		}
	}
}

func (s *session) readV1Loop(out chan<- v1Line, errCh chan<- error) {
	for {
		line, err := s.v1r.ReadLine()
		if err != nil {
			errCh <- fmt.Errorf("%w: upstream v1 read: %v", ErrPeerClosed, err)
			return
		}
		out <- line
	}
}

func (s *session) readV2Loop(out chan<- sv2Frame, errCh chan<- error) {
	for {
		raw, err := s.v2.ReadFrame(s.maxFramePayload)
		if err != nil {
			errCh <- fmt.Errorf("%w: downstream v2 read: %v", ErrPeerClosed, err)
			return
		}
		f, err := decodeFrameBytes(raw)
		if err != nil {
			errCh <- err
			return
		}
		if f.baseExtension() != sv2BaseExtension {
			logger.Warn("dropping non-base-extension frame", "session", s.id, "extension_type", f.ExtensionType)
			continue
		}
		out <- f
	}
}

func (s *session) sendV1Loop(errCh chan<- error) {
	for req := range s.outV1 {
		if err := s.v1w.WriteRequest(req); err != nil {
			errCh <- fmt.Errorf("%w: upstream v1 write: %v", ErrUpstreamUnreachable, err)
			return
		}
	}
}

func (s *session) sendV2Loop(errCh chan<- error) {
	for frame := range s.outV2 {
		if err := s.v2.WriteFrame(frame); err != nil {
			errCh <- fmt.Errorf("%w: downstream v2 write: %v", ErrPeerClosed, err)
			return
		}
	}
}

func (s *session) sendV1(req v1Request) { s.outV1 <- req }

func (s *session) sendV2Msg(msgType byte, m sv2Encodable) error {
	frame, err := encodeMiningMessage(msgType, m)
	if err != nil {
		return err
	}
	s.outV2 <- frame
	return nil
}

func (s *session) callV1(kind v1PendingKind, method string, params []any, p v1Pending) {
	id := s.v1NextID
	s.v1NextID++
	p.kind = kind
	s.v1PendingByID[id] = p
	s.sendV1(v1Request{ID: id, Method: method, Params: params})
}

// ---- V2 frame handling ----

func (s *session) handleV2Frame(f sv2Frame) error {
	msg, err := decodeMiningMessage(f)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case msgSetupConnectionT:
		return s.handleSetupConnection(m)
	case msgOpenStandardMiningChannelT:
		return s.handleOpenStandardMiningChannel(m)
	case msgCloseChannelT:
		delete(s.channels, m.ChannelID)
		return nil
	case msgSubmitSharesStandardT:
		return s.handleSubmitSharesStandard(m)
	default:
		return fmt.Errorf("%w: unexpected v2 message in session", ErrProtocolViolation)
	}
}

const (
	v2ProtocolMining = 0
	v2VersionMining  = 2
)

func (s *session) handleSetupConnection(m msgSetupConnectionT) error {
	if s.state != stateAwaitSetup {
		return fmt.Errorf("%w: SetupConnection out of state", ErrProtocolViolation)
	}
	if m.Protocol != v2ProtocolMining || m.MinVersion > v2VersionMining || m.MaxVersion < v2VersionMining {
		_ = s.sendV2Msg(msgSetupConnectionError, msgSetupConnectionErrorT{Flags: m.Flags, Code: "unsupported-protocol-version"})
		s.state = stateClosing
		return fmt.Errorf("%w: setup connection version mismatch", ErrProtocolViolation)
	}
	s.device = m.Device
	s.versionRollBits = m.Flags
	s.state = stateAwaitV1Subscribe

	if m.Flags != 0 {
		s.callV1(v1PendingConfigure, v1MethodConfigure, []any{[]string{"version-rolling"}, map[string]any{"version-rolling.mask": "ffffffff"}}, v1Pending{})
	}
	userAgent := fmt.Sprintf("%s/%s", firstNonEmpty(m.Device.Vendor, "sv2proxy"), firstNonEmpty(m.Device.FirmwareVersion, "0"))
	s.callV1(v1PendingSubscribe, v1MethodSubscribe, []any{userAgent}, v1Pending{})
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (s *session) handleOpenStandardMiningChannel(m msgOpenStandardMiningChannelT) error {
	if s.state != stateOperational {
		return fmt.Errorf("%w: OpenStandardMiningChannel before setup completed", ErrProtocolViolation)
	}
	// queued in arrival order; processed as V1 authorize resolves (spec.md §4.4 tie-break)
	s.pendingOpens = append(s.pendingOpens, pendingOpenChannel{
		reqID: m.ReqID, user: m.User, nominalHashrate: m.NominalHashrate, maxTarget: m.MaxTarget,
	})
	if len(s.pendingOpens) == 1 {
		s.issueNextAuthorize()
	}
	return nil
}

func (s *session) issueNextAuthorize() {
	if len(s.pendingOpens) == 0 {
		return
	}
	req := s.pendingOpens[0]
	s.callV1(v1PendingAuthorize, v1MethodAuthorize, []any{req.user, ""}, v1Pending{reqID: req.reqID, user: req.user})
}

func (s *session) handleSubmitSharesStandard(m msgSubmitSharesStandardT) error {
	cs, ok := s.channels[m.ChannelID]
	if !ok {
		return s.sendV2Msg(msgSubmitSharesError, msgSubmitSharesErrorT{ChannelID: m.ChannelID, SeqNum: m.SeqNum, Code: "unknown-channel"})
	}
	req, err := buildV1Submit(cs, cs.v1User, m)
	if err != nil {
		return s.sendV2Msg(msgSubmitSharesError, msgSubmitSharesErrorT{ChannelID: m.ChannelID, SeqNum: m.SeqNum, Code: "stale-share"})
	}
	s.callV1(v1PendingSubmit, v1MethodSubmit, req.Params, v1Pending{channelID: m.ChannelID, seqNum: m.SeqNum})
	return nil
}

// ---- V1 line handling ----

func (s *session) handleV1Line(line v1Line) error {
	if line.Req != nil {
		return s.handleV1Notification(*line.Req)
	}
	return s.handleV1Response(*line.Res)
}

func (s *session) handleV1Notification(req v1Request) error {
	switch req.Method {
	case v1MethodNotify:
		return s.handleV1Notify(req.Params)
	case v1MethodSetDiff:
		return s.handleV1SetDifficulty(req.Params)
	case v1MethodReconnect:
		return s.handleV1Reconnect(req.Params)
	default:
		logger.Warn("unsupported v1 method call", "session", s.id, "method", req.Method)
		return nil
	}
}

func (s *session) handleV1Notify(params []any) error {
	np, err := decodeV1NotifyParams(params)
	if err != nil {
		return err
	}
	for _, cs := range s.channels {
		versionRollingAllowed := s.v1VersionRollMask != 0
		v2ID, job, sph, _, err := translateNotify(cs, np, versionRollingAllowed)
		if err != nil {
			return err
		}
		if err := s.sendV2Msg(msgNewExtendedMiningJob, job); err != nil {
			return err
		}
		if sph != nil {
			if err := s.sendV2Msg(msgSetNewPrevHash, *sph); err != nil {
				return err
			}
		}
		_ = v2ID
	}
	return nil
}

func (s *session) handleV1SetDifficulty(params []any) error {
	diff, err := decodeV1SetDifficulty(params)
	if err != nil {
		return err
	}
	s.v1Difficulty = diff
	target := targetFromDifficulty(diff)
	for _, cs := range s.channels {
		cs.difficulty = diff
		if err := s.sendV2Msg(msgSetTarget, msgSetTargetT{ChannelID: cs.channelID, MaxTarget: target}); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) handleV1Reconnect(params []any) error {
	rp, err := decodeV1Reconnect(params)
	if err != nil {
		return err
	}
	return s.sendV2Msg(msgReconnect, msgReconnectT{NewHost: rp.Host, NewPort: uint16(rp.Port)})
}

func (s *session) handleV1Response(res v1Response) error {
	idFloat, ok := toFloat(res.ID)
	if !ok {
		return fmt.Errorf("%w: v1 response with non-numeric id", ErrTranslationLogic)
	}
	id := uint64(idFloat)
	p, ok := s.v1PendingByID[id]
	if !ok {
		return fmt.Errorf("%w: v1 response for unknown request id %d", ErrTranslationLogic, id)
	}
	delete(s.v1PendingByID, id)

	switch p.kind {
	case v1PendingConfigure:
		s.v1ConfigureSeen = true
		if res.Error == nil {
			var cr map[string]any
			if err := fastJSONUnmarshal(res.Result, &cr); err == nil {
				granted, _ := cr["version-rolling"].(bool)
				maskHex, _ := cr["version-rolling.mask"].(string)
				if maskBytes, err := hexDecodeFixed(maskHex, 4); granted && err == nil {
					s.v1VersionRollMask = clampVersionRollingMask(0xffffffff, beU32(maskBytes))
				}
			}
		}
		return nil
	case v1PendingSubscribe:
		if res.Error != nil {
			return fmt.Errorf("%w: v1 subscribe rejected: %s", ErrUpstreamUnreachable, res.Error.Message)
		}
		sub, err := decodeV1SubscribeResult(res.Result)
		if err != nil {
			return err
		}
		s.v1Subscribed = true
		s.v1ExtraNonce1 = mustHexDecode(sub.ExtraNonce1)
		s.v1ExtraNonce2Size = sub.ExtraNonce2Size
		s.state = stateOperational
		return s.sendV2Msg(msgSetupConnectionSuccess, msgSetupConnectionSuccessT{UsedVersion: v2VersionMining, Flags: s.versionRollBits})
	case v1PendingAuthorize:
		return s.handleV1AuthorizeResult(p, res)
	case v1PendingSubmit:
		return s.handleV1SubmitResult(p, res)
	default:
		return nil
	}
}

func (s *session) handleV1AuthorizeResult(p v1Pending, res v1Response) error {
	if len(s.pendingOpens) == 0 || s.pendingOpens[0].reqID != p.reqID {
		return fmt.Errorf("%w: authorize result does not match head of pending-opens queue", ErrTranslationLogic)
	}
	req := s.pendingOpens[0]
	s.pendingOpens = s.pendingOpens[1:]
	defer s.issueNextAuthorize()

	ok := res.Error == nil && decodeV1Bool(res.Result)
	if !ok {
		return s.sendV2Msg(msgOpenMiningChannelError, msgOpenMiningChannelErrorT{ReqID: req.reqID, Code: "authorization-failed"})
	}

	s.nextChannelID++
	channelID := s.nextChannelID
	cs := newChannelState(channelID, req.user, s.v1ExtraNonce1, s.v1ExtraNonce2Size)
	cs.difficulty = s.v1Difficulty
	cs.versionMask = s.v1VersionRollMask
	s.channels[channelID] = cs

	return s.sendV2Msg(msgOpenStandardMiningChannelSuccess, msgOpenStandardMiningChannelSuccessT{
		ReqID:            req.reqID,
		ChannelID:        channelID,
		Target:           targetFromDifficulty(s.v1Difficulty),
		ExtranoncePrefix: s.v1ExtraNonce1,
		GroupChannelID:   1,
	})
}

func (s *session) handleV1SubmitResult(p v1Pending, res v1Response) error {
	if res.Error != nil {
		s.metrics.recordShare(false, res.Error.Message)
		return s.sendV2Msg(msgSubmitSharesError, msgSubmitSharesErrorT{ChannelID: p.channelID, SeqNum: p.seqNum, Code: res.Error.Message})
	}
	s.metrics.recordShare(true, "")
	return s.sendV2Msg(msgSubmitSharesSuccess, msgSubmitSharesSuccessT{
		ChannelID:               p.channelID,
		LastSeqNum:              p.seqNum,
		NewSubmitsAcceptedCount: 1,
		NewSharesSum:            1,
	})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func decodeV1Bool(raw []byte) bool {
	var b bool
	_ = fastJSONUnmarshal(raw, &b)
	return b
}

func mustHexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
