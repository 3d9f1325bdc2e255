package relay

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/scormview/pkg/bus"
	"github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/navigation"
)

// Channel is the controller's handle on one session's participants.
type Channel struct {
	bus     bus.MessageBus
	session string
	timeout time.Duration
}

// NewChannel binds a channel to sessionID. timeout bounds command round
// trips and should exceed the hub's ack timeout.
func NewChannel(b bus.MessageBus, sessionID string, timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = DefaultAckTimeout + time.Second
	}
	return &Channel{bus: b, session: sessionID, timeout: timeout}
}

// Send delivers cmd to the content bridge and returns its ack. It
// implements navigation.Sender.
func (ch *Channel) Send(ctx context.Context, cmd navigation.Command) (navigation.Ack, error) {
	if cmd.ID == "" {
		cmd.ID = ulid.Make().String()
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return navigation.Ack{}, errors.Wrap(err, errors.ErrCodeInternal, "marshal command")
	}
	timeout := ch.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	reply, err := ch.bus.Request(ctx, bus.CommandSubject(ch.session), data, timeout)
	switch {
	case err == nil:
	case stderrors.Is(err, bus.ErrNoResponders):
		return navigation.Ack{}, errors.ContentOffline(ch.session, err)
	case stderrors.Is(err, bus.ErrTimeout):
		return navigation.Ack{}, errors.ContentOffline(ch.session, err).WithContext("command", cmd.Name)
	default:
		return navigation.Ack{}, err
	}
	var ack navigation.Ack
	if err := json.Unmarshal(reply, &ack); err != nil {
		return navigation.Ack{}, errors.Wrap(err, errors.ErrCodeInternal, "decode ack")
	}
	return ack, nil
}

// ToContent publishes v to the session's content participants without
// waiting for an ack.
func (ch *Channel) ToContent(ctx context.Context, v any) error {
	return bus.PublishJSON(ctx, ch.bus, bus.SessionSubject(ch.session, bus.RoleContent), v)
}

// ToHost publishes v to the session's host participants.
func (ch *Channel) ToHost(ctx context.Context, v any) error {
	return bus.PublishJSON(ctx, ch.bus, bus.SessionSubject(ch.session, bus.RoleHost), v)
}

// Inbound subscribes handler to envelopes forwarded from participants.
func (ch *Channel) Inbound(ctx context.Context, handler func(Envelope)) (bus.Subscription, error) {
	return ch.bus.Subscribe(ctx, bus.InboundSubject(ch.session), func(msg *bus.Message) []byte {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return nil
		}
		handler(env)
		return nil
	})
}
