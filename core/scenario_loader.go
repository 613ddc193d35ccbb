package core

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/signalsfoundry/rail-geofence/model"
)

//go:embed scenario/default_scenario.json
var defaultScenario []byte

// DefaultScenario returns the built-in reference data: eight stations, four
// trains with their coaches, four passengers and their luggage.
func DefaultScenario() io.Reader { return bytes.NewReader(defaultScenario) }

// Scenario is a summary of what was loaded.
type Scenario struct {
	StationCodes []string
	TrainNumbers []string
	UserIDs      []string
	ObjectIDs    []string
}

// scenarioJSON reuses the model wire shapes. Objects without a position start
// on their train.
type scenarioJSON struct {
	Stations []*model.Station      `json:"stations"`
	Trains   []*model.Train        `json:"trains"`
	Users    []*model.User         `json:"users"`
	Objects  []*scenarioObjectJSON `json:"objects"`
}

type scenarioObjectJSON struct {
	model.TrackedObject
	Position *model.Coordinate `json:"position,omitempty"`
}

// LoadScenario decodes a JSON scenario from r and creates every entity in it.
// Any store error, including a duplicate, aborts the load.
func LoadScenario(ctx context.Context, store AdminStore, r io.Reader) (*Scenario, error) {
	return loadScenario(ctx, store, r, false)
}

// SeedScenario is LoadScenario for startup seeding: each collection is only
// populated when the store holds none of that kind yet, so restarting against
// a persistent store leaves its data alone.
func SeedScenario(ctx context.Context, store AdminStore, r io.Reader) (*Scenario, error) {
	return loadScenario(ctx, store, r, true)
}

func loadScenario(ctx context.Context, store AdminStore, r io.Reader, onlyIfEmpty bool) (*Scenario, error) {
	if store == nil {
		return nil, fmt.Errorf("load scenario: store is nil")
	}

	var payload scenarioJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("load scenario: decode failed: %w", err)
	}

	result := &Scenario{}

	// 1) Stations
	if ok, err := shouldSeed(ctx, onlyIfEmpty, func(ctx context.Context) (int, error) {
		s, err := store.ListStations(ctx)
		return len(s), err
	}); err != nil {
		return nil, err
	} else if ok {
		for _, s := range payload.Stations {
			if err := store.CreateStation(ctx, s); err != nil {
				return nil, fmt.Errorf("load scenario: station %q: %w", s.Code, err)
			}
			result.StationCodes = append(result.StationCodes, s.Code)
		}
	}

	// 2) Trains
	trainPos := make(map[string]model.Coordinate, len(payload.Trains))
	for _, t := range payload.Trains {
		trainPos[t.Number] = t.Position
	}
	if ok, err := shouldSeed(ctx, onlyIfEmpty, func(ctx context.Context) (int, error) {
		t, err := store.ListTrains(ctx)
		return len(t), err
	}); err != nil {
		return nil, err
	} else if ok {
		for _, t := range payload.Trains {
			if err := store.CreateTrain(ctx, t); err != nil {
				return nil, fmt.Errorf("load scenario: train %q: %w", t.Number, err)
			}
			result.TrainNumbers = append(result.TrainNumbers, t.Number)
		}
	}

	// 3) Users reference trains and coaches.
	if ok, err := shouldSeed(ctx, onlyIfEmpty, func(ctx context.Context) (int, error) {
		u, err := store.ListUsers(ctx)
		return len(u), err
	}); err != nil {
		return nil, err
	} else if ok {
		for _, u := range payload.Users {
			if err := store.CreateUser(ctx, u); err != nil {
				return nil, fmt.Errorf("load scenario: user %q: %w", u.Email, err)
			}
			result.UserIDs = append(result.UserIDs, u.ID)
		}
	}

	// 4) Objects reference trains and coaches.
	if ok, err := shouldSeed(ctx, onlyIfEmpty, func(ctx context.Context) (int, error) {
		o, err := store.ListObjects(ctx)
		return len(o), err
	}); err != nil {
		return nil, err
	} else if ok {
		for _, jsObj := range payload.Objects {
			obj := jsObj.TrackedObject
			if jsObj.Position != nil {
				obj.Position = *jsObj.Position
			} else if pos, found := trainPos[obj.TrainNumber]; found {
				obj.Position = pos
			}
			if err := store.CreateObject(ctx, &obj); err != nil {
				return nil, fmt.Errorf("load scenario: object %q: %w", obj.ID, err)
			}
			result.ObjectIDs = append(result.ObjectIDs, obj.ID)
		}
	}

	return result, nil
}

func shouldSeed(ctx context.Context, onlyIfEmpty bool, count func(context.Context) (int, error)) (bool, error) {
	if !onlyIfEmpty {
		return true, nil
	}
	n, err := count(ctx)
	if err != nil {
		return false, fmt.Errorf("load scenario: %w", err)
	}
	return n == 0, nil
}
