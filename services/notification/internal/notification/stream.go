package notification

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/fulfillment/pkg"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName   = "notification.v1.NotificationStream"
	SubscribeName = "/" + ServiceName + "/Subscribe"

	maxReplay = 500
)

// SubscribeStream is the server side of one Subscribe call.
type SubscribeStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type NotificationStreamServer interface {
	Subscribe(req *structpb.Struct, stream SubscribeStream) error
}

// ServiceDesc describes the streaming service. Requests and notifications
// are structpb.Struct so no generated code is needed:
//
//	request:      {"order_id": "...", "topics": ["kitchen.notifications"], "replay": 20}
//	notification: {"topic", "event_type", "order_id", "occurred_at", "sequence", "payload"}
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NotificationStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "notification/v1/notification.proto",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(NotificationStreamServer).Subscribe(req, &subscribeStream{stream})
}

type subscribeStream struct {
	grpc.ServerStream
}

func (s *subscribeStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// StreamServer serves Subscribe: an optional replay of retained events,
// then live notifications from the hub until the client goes away.
type StreamServer struct {
	hub    *Hub
	replay pkg.TopicReplayer
	logger apt.Logger
}

func NewStreamServer(hub *Hub, replay pkg.TopicReplayer, logger apt.Logger) *StreamServer {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &StreamServer{
		hub:    hub,
		replay: replay,
		logger: logger.With("component", "notification.stream"),
	}
}

func (s *StreamServer) RegisterGRPCService(server *grpc.Server) {
	server.RegisterService(&ServiceDesc, s)
}

func (s *StreamServer) Subscribe(req *structpb.Struct, stream SubscribeStream) error {
	ctx := stream.Context()
	filter, replay := parseRequest(req)

	// Join before replaying so nothing published in between is missed; such an
	// event may then arrive twice.
	id, ch, leave := s.hub.Subscribe()
	defer leave()

	s.logger.Info("new notification subscriber", "subscriber_id", id, "order_id", filter.OrderID, "topics", filter.Topics, "replay", replay)
	defer s.logger.Info("notification subscriber disconnected", "subscriber_id", id)

	if replay > 0 {
		if err := s.sendReplay(ctx, stream, filter, replay); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if !filter.Match(n) {
				continue
			}
			msg, err := ToStruct(n)
			if err != nil {
				s.logger.Error("cannot encode notification", "event_type", n.EventType, "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				s.logger.Errorf("failed to send notification: %v", err)
				return err
			}
		}
	}
}

func (s *StreamServer) sendReplay(ctx context.Context, stream SubscribeStream, filter Filter, limit int) error {
	if s.replay == nil {
		return nil
	}

	var backlog []*Notification
	for _, topic := range filter.topics() {
		msgs, err := s.replay.Fetch(ctx, topic, limit)
		if err != nil {
			s.logger.Error("cannot replay topic", "topic", topic, "error", err)
			continue
		}
		for _, m := range msgs {
			n, err := Decode(topic, m.Data)
			if err != nil {
				continue
			}
			n.Sequence = m.Sequence
			if filter.Match(n) {
				backlog = append(backlog, n)
			}
		}
	}

	sort.SliceStable(backlog, func(i, j int) bool { return backlog[i].OccurredAt.Before(backlog[j].OccurredAt) })
	for _, n := range backlog {
		msg, err := ToStruct(n)
		if err != nil {
			continue
		}
		if err := stream.Send(msg); err != nil {
			return fmt.Errorf("failed to send replayed notification: %w", err)
		}
	}
	return nil
}

func parseRequest(req *structpb.Struct) (Filter, int) {
	var f Filter
	replay := 0
	if req == nil {
		return f, replay
	}

	fields := req.GetFields()
	f.OrderID = fields["order_id"].GetStringValue()
	for _, v := range fields["topics"].GetListValue().GetValues() {
		if t := v.GetStringValue(); t != "" {
			f.Topics = append(f.Topics, t)
		}
	}
	replay = int(fields["replay"].GetNumberValue())
	if replay < 0 {
		replay = 0
	}
	if replay > maxReplay {
		replay = maxReplay
	}
	return f, replay
}

// ToStruct is the wire form of a notification.
func ToStruct(n *Notification) (*structpb.Struct, error) {
	payload, err := structpb.NewStruct(n.Payload)
	if err != nil {
		return nil, err
	}
	occurred := n.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"topic":       structpb.NewStringValue(n.Topic),
		"event_type":  structpb.NewStringValue(n.EventType),
		"order_id":    structpb.NewStringValue(n.OrderID),
		"occurred_at": structpb.NewStringValue(occurred.UTC().Format(time.RFC3339Nano)),
		"sequence":    structpb.NewNumberValue(float64(n.Sequence)),
		"payload":     structpb.NewStructValue(payload),
	}}, nil
}

// Subscribe opens a client stream on conn. The caller reads with RecvMsg
// into a *structpb.Struct until it returns an error.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, req *structpb.Struct) (grpc.ClientStream, error) {
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], SubscribeName)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}
