package supervisor

import (
	"time"

	"github.com/canburaks/arch/internal/coreerr"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/state"
)

// minLeaseSeconds is the floor on a lease's expiry window (spec.md §4.5 step 5).
const minLeaseSeconds = 30

func (s *Supervisor) leaseTTL() time.Duration {
	timeout := s.Config.Backend.TimeoutSeconds
	ttl := 2 * timeout
	if ttl < minLeaseSeconds {
		ttl = minLeaseSeconds
	}
	return time.Duration(ttl * float64(time.Second))
}

// acquireLease atomically claims leases.active for runID, refusing if another
// non-expired lease is held by a different run (spec.md §4.5 step 5, §8
// invariant #8).
func (s *Supervisor) acquireLease(runID string) error {
	now := time.Now().UTC()
	_, err := state.Update(s.Store, state.NSLeases, model.LeasesData{}, func(d model.LeasesData) (model.LeasesData, error) {
		if d.Active != nil && d.Active.RunID != runID && d.Active.ExpiresEpoch > now.Unix() {
			return d, coreerr.LeaseConflict("lease held by run " + d.Active.RunID + " has not expired")
		}
		d.Active = &model.Lease{
			RunID:        runID,
			HeartbeatAt:  now,
			ExpiresEpoch: now.Add(s.leaseTTL()).Unix(),
		}
		return d, nil
	})
	return err
}

// heartbeatLease refreshes the active lease's heartbeat and expiry for runID,
// optionally noting the task currently in flight. No-op if the lease has
// since been displaced by another run.
func (s *Supervisor) heartbeatLease(runID, taskID string) error {
	now := time.Now().UTC()
	_, err := state.Update(s.Store, state.NSLeases, model.LeasesData{}, func(d model.LeasesData) (model.LeasesData, error) {
		if d.Active == nil || d.Active.RunID != runID {
			return d, nil
		}
		if now.After(d.Active.HeartbeatAt) {
			d.Active.HeartbeatAt = now
		}
		d.Active.ExpiresEpoch = now.Add(s.leaseTTL()).Unix()
		d.Active.TaskID = taskID
		return d, nil
	})
	return err
}

// releaseLease clears leases.active if it is still held by runID.
func (s *Supervisor) releaseLease(runID string) error {
	_, err := state.Update(s.Store, state.NSLeases, model.LeasesData{}, func(d model.LeasesData) (model.LeasesData, error) {
		if d.Active != nil && d.Active.RunID == runID {
			d.Active = nil
		}
		return d, nil
	})
	return err
}
