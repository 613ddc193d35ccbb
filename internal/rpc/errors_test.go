package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/rail-geofence/model"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "train not found", err: fmt.Errorf("train %q: %w", "1", model.ErrTrainNotFound), code: codes.NotFound},
		{name: "coach not found", err: model.ErrCoachNotFound, code: codes.NotFound},
		{name: "invalid argument", err: fmt.Errorf("%w: bad", model.ErrInvalidArgument), code: codes.InvalidArgument},
		{name: "duplicate station", err: model.ErrStationExists, code: codes.AlreadyExists},
		{name: "duplicate unresolved alert", err: model.ErrAlertExists, code: codes.AlreadyExists},
		{name: "canceled", err: context.Canceled, code: codes.Canceled},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
