package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"connectrpc.com/connect"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/mcdev12/scoreboard/go/internal/scoreboard"
	"github.com/mcdev12/scoreboard/go/internal/transport"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ControlApp defines what the service layer needs from the scoreboard application
type ControlApp interface {
	Snapshot() models.ClockSnapshot
	StartClock()
	StopClock()
	PauseClock()
	SetTime(req scoreboard.TimeRequest)
	SetShotClock(seconds int)
	ShotClock14()
	ShotClock24()
	ShotClockStart()
	ShotClockStop()
	ShotClockReset()
	SendCommand(name string) error
	Horn()
	ForceResync() bool
	NewGame()
	Devices() []models.DeviceStatus
	ReloadDevices(ctx context.Context) error
	Connect(ctx context.Context, address string) bool
	Disconnect(address string)
	Scan(ctx context.Context) error
}

// Service implements the ControlService Connect interface
type Service struct {
	app ControlApp
}

// NewService creates a new control service
func NewService(app ControlApp) *Service {
	return &Service{
		app: app,
	}
}

// NewControlServiceHandler builds an HTTP handler serving every ControlService method. It
// returns the path to mount the handler on.
func NewControlServiceHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	sd, err := ServiceDescriptor()
	if err != nil {
		log.Warn().Err(err).Msg("control service schema unavailable")
	}

	mux := http.NewServeMux()
	mux.Handle(unary(sd, "Snapshot", svc.Snapshot, opts))
	mux.Handle(unary(sd, "Start", svc.Start, opts))
	mux.Handle(unary(sd, "Stop", svc.Stop, opts))
	mux.Handle(unary(sd, "Pause", svc.Pause, opts))
	mux.Handle(unary(sd, "SetTime", svc.SetTime, opts))
	mux.Handle(unary(sd, "SetShotClock", svc.SetShotClock, opts))
	mux.Handle(unary(sd, "ResetShotClock", svc.ResetShotClock, opts))
	mux.Handle(unary(sd, "SetShotClockEnabled", svc.SetShotClockEnabled, opts))
	mux.Handle(unary(sd, "SendCommand", svc.SendCommand, opts))
	mux.Handle(unary(sd, "Horn", svc.Horn, opts))
	mux.Handle(unary(sd, "ForceResync", svc.ForceResync, opts))
	mux.Handle(unary(sd, "NewGame", svc.NewGame, opts))
	mux.Handle(unary(sd, "Devices", svc.Devices, opts))
	mux.Handle(unary(sd, "ReloadDevices", svc.ReloadDevices, opts))
	mux.Handle(unary(sd, "Connect", svc.Connect, opts))
	mux.Handle(unary(sd, "Disconnect", svc.Disconnect, opts))
	mux.Handle(unary(sd, "Scan", svc.Scan, opts))
	return "/" + ControlServiceName + "/", mux
}

func unary[Req, Res any](
	sd protoreflect.ServiceDescriptor,
	method string,
	fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error),
	opts []connect.HandlerOption,
) (string, http.Handler) {
	path := procedure(method)
	if sd != nil {
		if md := sd.Methods().ByName(protoreflect.Name(method)); md != nil {
			opts = append(opts[:len(opts):len(opts)], connect.WithSchema(md))
		}
	}
	return path, connect.NewUnaryHandler(path, fn, opts...)
}

// Snapshot returns the current clock state
func (s *Service) Snapshot(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return s.snapshotResponse()
}

// Start starts the game clock
func (s *Service) Start(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	s.app.StartClock()
	return s.snapshotResponse()
}

// Stop stops the game clock
func (s *Service) Stop(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	s.app.StopClock()
	return s.snapshotResponse()
}

// Pause pauses the game clock
func (s *Service) Pause(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	s.app.PauseClock()
	return s.snapshotResponse()
}

// SetTime applies the set-time form {minutes, seconds}
func (s *Service) SetTime(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	timeReq, err := ParseTimeForm(stringField(req.Msg, "minutes"), stringField(req.Msg, "seconds"))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	s.app.SetTime(timeReq)
	return s.snapshotResponse()
}

// SetShotClock applies the shot clock form {value}
func (s *Service) SetShotClock(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	seconds, err := ParseShotClockForm(stringField(req.Msg, "value"))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	s.app.SetShotClock(seconds)
	return s.snapshotResponse()
}

// ResetShotClock resets the shot clock to {to} (14 or 24). Without a value it sends the
// display's own shot clock reset.
func (s *Service) ResetShotClock(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	switch to := stringField(req.Msg, "to"); to {
	case "":
		s.app.ShotClockReset()
	case "14":
		s.app.ShotClock14()
	case "24":
		s.app.ShotClock24()
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("shot clock resets to 14 or 24, not %s", to))
	}
	return s.snapshotResponse()
}

// SetShotClockEnabled starts or stops the shot clock {enabled}
func (s *Service) SetShotClockEnabled(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	v, ok := req.Msg.GetFields()["enabled"]
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("enabled is required"))
	}
	if v.GetBoolValue() {
		s.app.ShotClockStart()
	} else {
		s.app.ShotClockStop()
	}
	return s.snapshotResponse()
}

// SendCommand passes a named wire command {name} to the displays
func (s *Service) SendCommand(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	if err := s.app.SendCommand(stringField(req.Msg, "name")); err != nil {
		if errors.Is(err, scoreboard.ErrUnknownCommand) {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return s.snapshotResponse()
}

// Horn sounds the horn
func (s *Service) Horn(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	s.app.Horn()
	return s.snapshotResponse()
}

// ForceResync pushes the full clock state to every display
func (s *Service) ForceResync(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return structResponse(map[string]any{"started": s.app.ForceResync()})
}

// NewGame resets the clocks and starts a new game on the displays
func (s *Service) NewGame(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	s.app.NewGame()
	return s.snapshotResponse()
}

// Devices lists the display slots with their connection state
func (s *Service) Devices(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return structResponse(map[string]any{"devices": s.app.Devices()})
}

// ReloadDevices re-reads the display slots from the settings store
func (s *Service) ReloadDevices(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	if err := s.app.ReloadDevices(ctx); err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return structResponse(map[string]any{"devices": s.app.Devices()})
}

// Connect connects the display {address}
func (s *Service) Connect(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	address := stringField(req.Msg, "address")
	if address == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("address is required"))
	}
	return structResponse(map[string]any{"connected": s.app.Connect(ctx, address)})
}

// Disconnect drops the display {address}
func (s *Service) Disconnect(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	address := stringField(req.Msg, "address")
	if address == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("address is required"))
	}
	s.app.Disconnect(address)
	return structResponse(map[string]any{"connected": false})
}

// Scan searches for the registered displays
func (s *Service) Scan(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	if err := s.app.Scan(ctx); err != nil {
		if errors.Is(err, transport.ErrPermissionDenied) {
			return nil, connect.NewError(connect.CodePermissionDenied, err)
		}
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return structResponse(map[string]any{"devices": s.app.Devices()})
}

func (s *Service) snapshotResponse() (*connect.Response[structpb.Struct], error) {
	return structResponse(s.app.Snapshot())
}

// structResponse converts v to a Struct through its JSON form.
func structResponse(v any) (*connect.Response[structpb.Struct], error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(st), nil
}

// stringField reads a form field. Numbers are accepted and rendered without a fraction when
// they are whole.
func stringField(s *structpb.Struct, name string) string {
	v, ok := s.GetFields()[name]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
}
