package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/wire"
	"github.com/signalsfoundry/rail-geofence/model"
)

const alertServiceName = "railfence.v1.AlertService"

// AlertServer is the server API of railfence.v1.AlertService.
//
//   - ListAlerts {type?, resolved?, trainNumber?, objectId?, stationCode?, limit?}
//   - GetAlertStats {days?}
//   - ResolveAlert {id}
type AlertServer interface {
	ListAlerts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetAlertStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ResolveAlert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var alertServiceDesc = grpc.ServiceDesc{
	ServiceName: alertServiceName,
	HandlerType: (*AlertServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListAlerts",
			Handler: unaryHandler("/"+alertServiceName+"/ListAlerts", func(srv any) structMethod {
				return srv.(AlertServer).ListAlerts
			}),
		},
		{
			MethodName: "GetAlertStats",
			Handler: unaryHandler("/"+alertServiceName+"/GetAlertStats", func(srv any) structMethod {
				return srv.(AlertServer).GetAlertStats
			}),
		},
		{
			MethodName: "ResolveAlert",
			Handler: unaryHandler("/"+alertServiceName+"/ResolveAlert", func(srv any) structMethod {
				return srv.(AlertServer).ResolveAlert
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "railfence/v1/alerts.proto",
}

// RegisterAlertServer registers srv on s.
func RegisterAlertServer(s grpc.ServiceRegistrar, srv AlertServer) {
	s.RegisterService(&alertServiceDesc, srv)
}

// DefaultStatsDays is the stats window when the request leaves days out.
const DefaultStatsDays = 7

// AlertService implements AlertServer on top of core.AlertService.
type AlertService struct {
	alerts *core.AlertService
}

func NewAlertService(alerts *core.AlertService) *AlertService {
	return &AlertService{alerts: alerts}
}

func (s *AlertService) ListAlerts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter, err := alertFilterFromArgs(newArgs(req))
	if err != nil {
		return nil, err
	}
	alerts, err := s.alerts.ListAlerts(ctx, filter)
	if err != nil {
		return nil, err
	}
	return toStruct(wire.FromAlerts(alerts))
}

func (s *AlertService) GetAlertStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	days, err := newArgs(req).intOr("days", DefaultStatsDays)
	if err != nil {
		return nil, err
	}
	stats, err := s.alerts.Stats(ctx, days)
	if err != nil {
		return nil, err
	}
	return toStruct(wire.FromStats(stats))
}

func (s *AlertService) ResolveAlert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := newArgs(req).requiredStr("id")
	if err != nil {
		return nil, err
	}
	a, err := s.alerts.ResolveAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStruct(a)
}

func alertFilterFromArgs(a args) (model.AlertFilter, error) {
	var f model.AlertFilter
	kind, err := a.str("type")
	if err != nil {
		return f, err
	}
	if kind != "" {
		if f.Kind, err = model.ParseAlertKind(kind); err != nil {
			return f, err
		}
	}
	if f.Resolved, err = a.boolean("resolved"); err != nil {
		return f, err
	}
	if f.TrainNumber, err = a.str("trainNumber"); err != nil {
		return f, err
	}
	if f.ObjectID, err = a.str("objectId"); err != nil {
		return f, err
	}
	if f.StationCode, err = a.str("stationCode"); err != nil {
		return f, err
	}
	if f.Limit, err = a.intOr("limit", 0); err != nil {
		return f, err
	}
	return f, nil
}

// AlertClient calls railfence.v1.AlertService.
type AlertClient struct {
	cc grpc.ClientConnInterface
}

func NewAlertClient(cc grpc.ClientConnInterface) *AlertClient {
	return &AlertClient{cc: cc}
}

func (c *AlertClient) ListAlerts(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "/"+alertServiceName+"/ListAlerts", in, opts...)
}

func (c *AlertClient) GetAlertStats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "/"+alertServiceName+"/GetAlertStats", in, opts...)
}

func (c *AlertClient) ResolveAlert(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "/"+alertServiceName+"/ResolveAlert", in, opts...)
}
