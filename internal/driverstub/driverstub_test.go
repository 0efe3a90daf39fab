package driverstub

import (
	"testing"

	"github.com/hidctl/mousectld/internal/driverapi"
	"github.com/hidctl/mousectld/internal/model"
)

func TestEveryStubNameRegistered(t *testing.T) {
	registered := map[string]bool{}
	for _, n := range driverapi.Names() {
		registered[n] = true
	}
	for _, name := range names {
		if !registered[name] {
			t.Errorf("expected %q to be registered", name)
		}
	}
}

func TestLoadProfilesPublishesSingleDefaultProfile(t *testing.T) {
	d := New("gskill")
	info := &model.DeviceInfo{}
	if err := d.LoadProfiles(nil, info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.Profiles) != 1 {
		t.Fatalf("expected exactly one profile, got %d", len(info.Profiles))
	}
	if !info.Profiles[0].Active {
		t.Fatalf("expected the single profile to be active")
	}
}

func TestCommitIsNoop(t *testing.T) {
	d := New("asus")
	info := &model.DeviceInfo{Profiles: []model.ProfileInfo{{Index: 0, Dirty: true}}}
	if err := d.Commit(nil, info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
