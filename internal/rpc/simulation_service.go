package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/internal/wire"
)

const simulationServiceName = "railfence.v1.SimulationService"

// SimulationServer is the server API of railfence.v1.SimulationService.
//
//   - MoveTrains {trainNumber?, distanceKm?} ticks one train or all trains.
//   - SimulateTheft {objectId, distanceKm?} displaces an object.
//   - PlanJourney {trainNumber, stationCode, durationMinutes?, intervalSeconds?}
//     points a train at a station.
//   - GenerateRandomEvents {theftProbability?, count?} runs random events.
type SimulationServer interface {
	MoveTrains(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SimulateTheft(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	PlanJourney(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GenerateRandomEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var simulationServiceDesc = grpc.ServiceDesc{
	ServiceName: simulationServiceName,
	HandlerType: (*SimulationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "MoveTrains",
			Handler: unaryHandler("/"+simulationServiceName+"/MoveTrains", func(srv any) structMethod {
				return srv.(SimulationServer).MoveTrains
			}),
		},
		{
			MethodName: "SimulateTheft",
			Handler: unaryHandler("/"+simulationServiceName+"/SimulateTheft", func(srv any) structMethod {
				return srv.(SimulationServer).SimulateTheft
			}),
		},
		{
			MethodName: "PlanJourney",
			Handler: unaryHandler("/"+simulationServiceName+"/PlanJourney", func(srv any) structMethod {
				return srv.(SimulationServer).PlanJourney
			}),
		},
		{
			MethodName: "GenerateRandomEvents",
			Handler: unaryHandler("/"+simulationServiceName+"/GenerateRandomEvents", func(srv any) structMethod {
				return srv.(SimulationServer).GenerateRandomEvents
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "railfence/v1/simulation.proto",
}

// RegisterSimulationServer registers srv on s.
func RegisterSimulationServer(s grpc.ServiceRegistrar, srv SimulationServer) {
	s.RegisterService(&simulationServiceDesc, srv)
}

// SimulationService implements SimulationServer on top of the motion
// simulator.
type SimulationService struct {
	motion *core.MotionSimulator
	log    logging.Logger
}

// NewSimulationService constructs a SimulationService.
func NewSimulationService(motion *core.MotionSimulator, log logging.Logger) *SimulationService {
	if log == nil {
		log = logging.Noop()
	}
	return &SimulationService{motion: motion, log: log}
}

func (s *SimulationService) MoveTrains(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a := newArgs(req)
	trainNumber, err := a.str("trainNumber")
	if err != nil {
		return nil, err
	}
	distance, err := a.number("distanceKm")
	if err != nil {
		return nil, err
	}

	var moves []core.Movement
	switch {
	case trainNumber != "" && distance != nil:
		mv, err := s.motion.TickDistance(ctx, trainNumber, *distance)
		if err != nil {
			return nil, err
		}
		moves = []core.Movement{mv}
	case trainNumber != "":
		mv, err := s.motion.Tick(ctx, trainNumber)
		if err != nil {
			return nil, err
		}
		moves = []core.Movement{mv}
	default:
		moves, err = s.motion.TickAll(ctx, distance)
		if err != nil {
			return nil, err
		}
	}

	logging.FromContext(ctx, s.log).Debug(ctx, "trains moved", logging.Int("count", len(moves)))
	return toStruct(wire.FromMovements(moves))
}

func (s *SimulationService) SimulateTheft(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a := newArgs(req)
	objectID, err := a.requiredStr("objectId")
	if err != nil {
		return nil, err
	}
	distance, err := a.numberOr("distanceKm", core.DefaultTheftDistanceKm)
	if err != nil {
		return nil, err
	}

	res, err := s.motion.SimulateTheft(ctx, objectID, distance)
	if err != nil {
		return nil, err
	}
	return toStruct(wire.FromTheft(res))
}

func (s *SimulationService) PlanJourney(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a := newArgs(req)
	trainNumber, err := a.requiredStr("trainNumber")
	if err != nil {
		return nil, err
	}
	stationCode, err := a.requiredStr("stationCode")
	if err != nil {
		return nil, err
	}
	minutes, err := a.numberOr("durationMinutes", core.DefaultJourneyMinutes)
	if err != nil {
		return nil, err
	}
	interval, err := a.numberOr("intervalSeconds", 0)
	if err != nil {
		return nil, err
	}

	plan, err := s.motion.PlanJourney(ctx, trainNumber, stationCode, minutes, interval)
	if err != nil {
		return nil, err
	}
	return toStruct(wire.FromJourney(plan))
}

func (s *SimulationService) GenerateRandomEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a := newArgs(req)
	probability, err := a.numberOr("theftProbability", core.DefaultTheftProbability)
	if err != nil {
		return nil, err
	}
	count, err := a.intOr("count", core.DefaultRandomEventCount)
	if err != nil {
		return nil, err
	}

	events, err := s.motion.GenerateRandomEvents(ctx, probability, count)
	if err != nil {
		return nil, err
	}
	return toStruct(wire.FromRandomEvents(events))
}

// SimulationClient calls railfence.v1.SimulationService.
type SimulationClient struct {
	cc grpc.ClientConnInterface
}

// NewSimulationClient wraps a client connection.
func NewSimulationClient(cc grpc.ClientConnInterface) *SimulationClient {
	return &SimulationClient{cc: cc}
}

func (c *SimulationClient) MoveTrains(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "/"+simulationServiceName+"/MoveTrains", in, opts...)
}

func (c *SimulationClient) SimulateTheft(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "/"+simulationServiceName+"/SimulateTheft", in, opts...)
}

func (c *SimulationClient) PlanJourney(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "/"+simulationServiceName+"/PlanJourney", in, opts...)
}

func (c *SimulationClient) GenerateRandomEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "/"+simulationServiceName+"/GenerateRandomEvents", in, opts...)
}
