package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ivankudzin/modgate/internal/domain/enums"
	"github.com/ivankudzin/modgate/internal/domain/model"
	"github.com/ivankudzin/modgate/internal/pkg/txn"
	"github.com/ivankudzin/modgate/internal/services/broadcast"
)

var errFakeNotFound = fmt.Errorf("fake record not found: %w", txn.ErrNotFound)

type memState struct {
	users map[int64]model.User
	kicks map[int64]model.KickRecord
	bans  map[string]model.BanRecord

	banUpsertErr error
	kickGetErr   error
	banGetErr    error
}

func newMemState() *memState {
	return &memState{
		users: make(map[int64]model.User),
		kicks: make(map[int64]model.KickRecord),
		bans:  make(map[string]model.BanRecord),
	}
}

func (s *memState) clone() *memState {
	next := newMemState()
	for id, u := range s.users {
		next.users[id] = u
	}
	for id, k := range s.kicks {
		next.kicks[id] = k
	}
	for key, b := range s.bans {
		next.bans[key] = b
	}
	next.banUpsertErr = s.banUpsertErr
	next.kickGetErr = s.kickGetErr
	next.banGetErr = s.banGetErr
	return next
}

func banKey(kind enums.TargetKind, targetID string) string {
	return string(kind) + "|" + targetID
}

type memUsers struct{ state *memState }

func (m *memUsers) Get(_ context.Context, userID int64) (model.User, error) {
	user, ok := m.state.users[userID]
	if !ok {
		return model.User{}, errFakeNotFound
	}
	return user, nil
}

func (m *memUsers) UpdateStatusVersioned(_ context.Context, userID, expectVersion int64, status enums.SessionStatus) (int64, error) {
	user, ok := m.state.users[userID]
	if !ok {
		return 0, errFakeNotFound
	}
	if user.Version != expectVersion {
		return 0, txn.ErrLockConflict
	}
	user.Status = status
	user.Version++
	m.state.users[userID] = user
	return user.Version, nil
}

func (m *memUsers) UpdateRoleVersioned(_ context.Context, userID, expectVersion int64, role enums.Role) (int64, error) {
	user, ok := m.state.users[userID]
	if !ok {
		return 0, errFakeNotFound
	}
	if user.Version != expectVersion {
		return 0, txn.ErrLockConflict
	}
	user.Role = role
	user.Version++
	m.state.users[userID] = user
	return user.Version, nil
}

type memKicks struct{ state *memState }

func (m *memKicks) Get(_ context.Context, userID int64) (model.KickRecord, error) {
	if m.state.kickGetErr != nil {
		return model.KickRecord{}, m.state.kickGetErr
	}
	kick, ok := m.state.kicks[userID]
	if !ok {
		return model.KickRecord{}, errFakeNotFound
	}
	return kick, nil
}

func (m *memKicks) Upsert(_ context.Context, kick model.KickRecord) error {
	m.state.kicks[kick.UserID] = kick
	return nil
}

func (m *memKicks) Delete(_ context.Context, userID int64) error {
	delete(m.state.kicks, userID)
	return nil
}

type memBans struct{ state *memState }

func (m *memBans) GetActive(_ context.Context, kind enums.TargetKind, targetID string) (model.BanRecord, error) {
	if m.state.banGetErr != nil {
		return model.BanRecord{}, m.state.banGetErr
	}
	ban, ok := m.state.bans[banKey(kind, targetID)]
	if !ok || !ban.Active {
		return model.BanRecord{}, errFakeNotFound
	}
	return ban, nil
}

func (m *memBans) Upsert(_ context.Context, ban model.BanRecord) error {
	if m.state.banUpsertErr != nil {
		return m.state.banUpsertErr
	}
	m.state.bans[banKey(ban.TargetKind, ban.TargetID)] = ban
	return nil
}

func (m *memBans) Deactivate(_ context.Context, kind enums.TargetKind, targetID string) error {
	key := banKey(kind, targetID)
	if ban, ok := m.state.bans[key]; ok {
		ban.Active = false
		m.state.bans[key] = ban
	}
	return nil
}

// memAtomic commits fn's writes only when fn succeeds, mirroring the
// all-or-nothing behavior of the real transaction runner.
type memAtomic struct{ state *memState }

func (a *memAtomic) Run(_ context.Context, fn func(Stores) error) error {
	work := a.state.clone()
	err := fn(Stores{
		Users: &memUsers{state: work},
		Kicks: &memKicks{state: work},
		Bans:  &memBans{state: work},
	})
	if err != nil {
		return err
	}
	*a.state = *work
	return nil
}

type memAudit struct{ entries []model.AuditEntry }

func (m *memAudit) Append(_ context.Context, entry model.AuditEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

type fakeOffliner struct{ calls []int64 }

func (f *fakeOffliner) MarkOffline(_ context.Context, userID int64) error {
	f.calls = append(f.calls, userID)
	return nil
}

type recordingBroadcaster struct {
	channels []string
	events   []string
}

func (r *recordingBroadcaster) Publish(_ context.Context, channel, eventType string, _ any) broadcast.PublishResult {
	r.channels = append(r.channels, channel)
	r.events = append(r.events, eventType)
	return broadcast.PublishResult{}
}

type fixture struct {
	svc      *Service
	state    *memState
	audit    *memAudit
	presence *fakeOffliner
	caster   *recordingBroadcaster
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	state := newMemState()
	audit := &memAudit{}
	presence := &fakeOffliner{}
	caster := &recordingBroadcaster{}

	stores := Stores{
		Users: &memUsers{state: state},
		Kicks: &memKicks{state: state},
		Bans:  &memBans{state: state},
	}
	svc := NewService(&memAtomic{state: state}, stores, audit, presence, caster, nil, Config{
		KickTTL:     24 * time.Hour,
		MaxBanHours: 8760,
		Retry:       txn.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, CapDelay: time.Millisecond},
	}, nil)

	f := &fixture{svc: svc, state: state, audit: audit, presence: presence, caster: caster}
	f.now = time.Date(2026, time.April, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addUser(id int64, status enums.SessionStatus) {
	f.state.users[id] = model.User{
		ID:       id,
		Username: "user",
		Role:     enums.RoleStandard,
		Status:   status,
		Version:  1,
	}
}

func TestKickTransitionsActiveUser(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusActive)

	result := f.svc.Kick(context.Background(), 7, 1, "spamming")
	if !result.Success {
		t.Fatalf("kick failed: %s", result.Message)
	}

	user := f.state.users[7]
	if user.Status != enums.SessionStatusKicked {
		t.Fatalf("expected kicked status, got %s", user.Status)
	}
	if user.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", user.Version)
	}
	kick, ok := f.state.kicks[7]
	if !ok {
		t.Fatalf("expected kick record")
	}
	if want := f.now.Add(24 * time.Hour); !kick.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, kick.ExpiresAt)
	}
	if len(f.presence.calls) != 1 || f.presence.calls[0] != 7 {
		t.Fatalf("expected forced offline for user 7, got %v", f.presence.calls)
	}
	if len(f.audit.entries) != 1 || f.audit.entries[0].Action != enums.AuditActionKick {
		t.Fatalf("expected one kick audit entry, got %+v", f.audit.entries)
	}

	var sawStatus, sawKickChannel bool
	for i, channel := range f.caster.channels {
		if channel == broadcast.ChannelUserStatus && f.caster.events[i] == broadcast.EventUserStatusChanged {
			sawStatus = true
		}
		if channel == broadcast.KickChannel(7) && f.caster.events[i] == broadcast.EventUserKicked {
			sawKickChannel = true
		}
	}
	if !sawStatus || !sawKickChannel {
		t.Fatalf("expected status and per-user kick events, got channels=%v events=%v", f.caster.channels, f.caster.events)
	}
}

func TestRekickRefreshesExpiryWithoutStatusWrite(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusActive)

	if result := f.svc.Kick(context.Background(), 7, 1, "first"); !result.Success {
		t.Fatalf("first kick failed: %s", result.Message)
	}
	versionAfterFirst := f.state.users[7].Version

	f.now = f.now.Add(time.Hour)
	if result := f.svc.Kick(context.Background(), 7, 1, "again"); !result.Success {
		t.Fatalf("second kick failed: %s", result.Message)
	}

	if f.state.users[7].Version != versionAfterFirst {
		t.Fatalf("re-kick must not bump the version, got %d", f.state.users[7].Version)
	}
	kick := f.state.kicks[7]
	if kick.Reason != "again" {
		t.Fatalf("expected refreshed reason, got %q", kick.Reason)
	}
	if want := f.now.Add(24 * time.Hour); !kick.ExpiresAt.Equal(want) {
		t.Fatalf("expected refreshed expiry %v, got %v", want, kick.ExpiresAt)
	}
}

func TestKickRejectsBannedUser(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusBanned)

	result := f.svc.Kick(context.Background(), 7, 1, "reason")
	if result.Success {
		t.Fatalf("kicking a banned user must fail")
	}
	if _, ok := f.state.kicks[7]; ok {
		t.Fatalf("no kick record must be written for a banned user")
	}
}

func TestKickValidationRejectsEmptyReason(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusActive)

	if result := f.svc.Kick(context.Background(), 7, 1, ""); result.Success {
		t.Fatalf("empty reason must be rejected before any store write")
	}
}

func TestStatusLazilyExpiresKick(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusActive)

	if result := f.svc.Kick(context.Background(), 7, 1, "reason"); !result.Success {
		t.Fatalf("kick failed: %s", result.Message)
	}

	f.now = f.now.Add(25 * time.Hour)
	view, err := f.svc.Status(context.Background(), 7)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != enums.SessionStatusActive {
		t.Fatalf("expired kick must read as active, got %s", view.Status)
	}
	if _, ok := f.state.kicks[7]; ok {
		t.Fatalf("expired kick record must be removed on read")
	}
	if f.state.users[7].Status != enums.SessionStatusActive {
		t.Fatalf("stored status must revert to active")
	}
}

func TestStatusKeepsKickWhenStoreReadFails(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusActive)

	if result := f.svc.Kick(context.Background(), 7, 1, "spamming"); !result.Success {
		t.Fatalf("kick failed: %s", result.Message)
	}

	f.state.kickGetErr = context.DeadlineExceeded
	if _, err := f.svc.Status(context.Background(), 7); err == nil {
		t.Fatalf("a failed kick read must surface an error, not absence")
	}

	if _, ok := f.state.kicks[7]; !ok {
		t.Fatalf("kick record must survive a failed read")
	}
	if f.state.users[7].Status != enums.SessionStatusKicked {
		t.Fatalf("status must stay kicked after a failed read, got %s", f.state.users[7].Status)
	}

	// Once the store recovers the kick is still in force.
	f.state.kickGetErr = nil
	view, err := f.svc.Status(context.Background(), 7)
	if err != nil {
		t.Fatalf("status after recovery: %v", err)
	}
	if view.Status != enums.SessionStatusKicked || view.Kick == nil {
		t.Fatalf("expected kicked view after recovery, got %+v", view)
	}
}

func TestStatusKeepsBanWhenStoreReadFails(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusBanned)
	f.state.bans[banKey(enums.TargetKindUser, "7")] = model.BanRecord{
		TargetKind: enums.TargetKindUser,
		TargetID:   "7",
		Reason:     "abuse",
		Active:     true,
	}

	f.state.banGetErr = context.DeadlineExceeded
	if _, err := f.svc.Status(context.Background(), 7); err == nil {
		t.Fatalf("a failed ban read must surface an error, not absence")
	}

	if !f.state.bans[banKey(enums.TargetKindUser, "7")].Active {
		t.Fatalf("ban must survive a failed read")
	}
	if f.state.users[7].Status != enums.SessionStatusBanned {
		t.Fatalf("status must stay banned after a failed read, got %s", f.state.users[7].Status)
	}
}

func TestStatusReconcilesOrphanedKickedStatus(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusKicked)
	// No kick record: the status row outlived its restriction.

	view, err := f.svc.Status(context.Background(), 7)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != enums.SessionStatusActive {
		t.Fatalf("orphaned kicked status must read as active, got %s", view.Status)
	}
	if f.state.users[7].Status != enums.SessionStatusActive {
		t.Fatalf("stored status must revert to active")
	}
}

func TestBanSupersedesKick(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusActive)

	if result := f.svc.Kick(context.Background(), 7, 1, "reason"); !result.Success {
		t.Fatalf("kick failed: %s", result.Message)
	}
	if result := f.svc.Ban(context.Background(), enums.TargetKindUser, "7", 1, "abuse", nil); !result.Success {
		t.Fatalf("ban failed: %s", result.Message)
	}

	if _, ok := f.state.kicks[7]; ok {
		t.Fatalf("ban must collapse the kick record")
	}
	if f.state.users[7].Status != enums.SessionStatusBanned {
		t.Fatalf("expected banned status, got %s", f.state.users[7].Status)
	}
	ban := f.state.bans[banKey(enums.TargetKindUser, "7")]
	if !ban.Active || !ban.Permanent() {
		t.Fatalf("expected active permanent ban, got %+v", ban)
	}
}

func TestBanRollsBackWhenAnyWriteFails(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusActive)
	if result := f.svc.Kick(context.Background(), 7, 1, "reason"); !result.Success {
		t.Fatalf("kick failed: %s", result.Message)
	}

	f.state.banUpsertErr = errors.New("disk full")
	result := f.svc.Ban(context.Background(), enums.TargetKindUser, "7", 1, "abuse", nil)
	if result.Success {
		t.Fatalf("ban must fail when the ban write fails")
	}

	if _, ok := f.state.kicks[7]; !ok {
		t.Fatalf("kick delete must roll back with the failed ban")
	}
	if f.state.users[7].Status != enums.SessionStatusKicked {
		t.Fatalf("status must stay kicked after rollback, got %s", f.state.users[7].Status)
	}
}

func TestIPBanIsIdempotentAndChecked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if result := f.svc.Ban(ctx, enums.TargetKindIP, "203.0.113.9", 1, "scraping", nil); !result.Success {
		t.Fatalf("first ip ban failed: %s", result.Message)
	}
	if result := f.svc.Ban(ctx, enums.TargetKindIP, "203.0.113.9", 1, "scraping again", nil); !result.Success {
		t.Fatalf("second ip ban failed: %s", result.Message)
	}

	if len(f.state.bans) != 1 {
		t.Fatalf("expected a single active ban row, got %d", len(f.state.bans))
	}
	banned, err := f.svc.IsBanned(ctx, enums.TargetKindIP, "203.0.113.9")
	if err != nil || !banned {
		t.Fatalf("expected ip reported banned, got %v %v", banned, err)
	}
}

func TestIsBannedLazilyExpiresTimedBan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hours := 2
	if result := f.svc.Ban(ctx, enums.TargetKindIP, "203.0.113.9", 1, "scraping", &hours); !result.Success {
		t.Fatalf("ban failed: %s", result.Message)
	}

	f.now = f.now.Add(3 * time.Hour)
	banned, err := f.svc.IsBanned(ctx, enums.TargetKindIP, "203.0.113.9")
	if err != nil {
		t.Fatalf("is banned: %v", err)
	}
	if banned {
		t.Fatalf("expired ban must read as not banned")
	}
	if ban := f.state.bans[banKey(enums.TargetKindIP, "203.0.113.9")]; ban.Active {
		t.Fatalf("expired ban must be deactivated on read")
	}
}

func TestIsBannedSurfacesStoreOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if result := f.svc.Ban(ctx, enums.TargetKindIP, "203.0.113.9", 1, "scraping", nil); !result.Success {
		t.Fatalf("ban failed: %s", result.Message)
	}

	f.state.banGetErr = context.DeadlineExceeded
	banned, err := f.svc.IsBanned(ctx, enums.TargetKindIP, "203.0.113.9")
	if err == nil {
		t.Fatalf("a failed ban read must not report the target as unbanned")
	}
	if banned {
		t.Fatalf("failed read must not report banned either")
	}
	if !f.state.bans[banKey(enums.TargetKindIP, "203.0.113.9")].Active {
		t.Fatalf("ban must survive the outage untouched")
	}
}

func TestBanRejectsOverlongDuration(t *testing.T) {
	f := newFixture(t)

	hours := 9000
	if result := f.svc.Ban(context.Background(), enums.TargetKindIP, "203.0.113.9", 1, "reason", &hours); result.Success {
		t.Fatalf("duration past the one-year ceiling must be rejected")
	}
}

func TestUnbanRevertsToKickedWhenKickStillValid(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusBanned)
	f.state.kicks[7] = model.KickRecord{
		UserID:    7,
		Reason:    "still kicked",
		IssuedBy:  1,
		IssuedAt:  f.now.Add(-time.Hour),
		ExpiresAt: f.now.Add(time.Hour),
	}
	f.state.bans[banKey(enums.TargetKindUser, "7")] = model.BanRecord{
		TargetKind: enums.TargetKindUser,
		TargetID:   "7",
		Reason:     "banned",
		Active:     true,
	}

	result := f.svc.Unban(context.Background(), enums.TargetKindUser, "7", 1)
	if !result.Success {
		t.Fatalf("unban failed: %s", result.Message)
	}
	if f.state.users[7].Status != enums.SessionStatusKicked {
		t.Fatalf("expected revert to kicked, got %s", f.state.users[7].Status)
	}
	if f.state.bans[banKey(enums.TargetKindUser, "7")].Active {
		t.Fatalf("ban must be deactivated")
	}
}

func TestUnkickRevertsToActive(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusActive)
	if result := f.svc.Kick(context.Background(), 7, 1, "reason"); !result.Success {
		t.Fatalf("kick failed: %s", result.Message)
	}

	result := f.svc.Unkick(context.Background(), 7, 1)
	if !result.Success {
		t.Fatalf("unkick failed: %s", result.Message)
	}
	if f.state.users[7].Status != enums.SessionStatusActive {
		t.Fatalf("expected active after unkick, got %s", f.state.users[7].Status)
	}
	if _, ok := f.state.kicks[7]; ok {
		t.Fatalf("kick record must be gone")
	}
}

func TestUpdateRoleSurfacesStaleVersion(t *testing.T) {
	f := newFixture(t)
	f.addUser(7, enums.SessionStatusActive)

	// Concurrent writer already advanced the version.
	user := f.state.users[7]
	user.Version = 5
	f.state.users[7] = user

	result := f.svc.UpdateRole(context.Background(), 7, 1, 1, enums.RoleModerator)
	if result.Success {
		t.Fatalf("stale version must not win the role write")
	}
	if !strings.Contains(result.Message, "re-read") {
		t.Fatalf("conflict message must tell the caller to re-read, got %q", result.Message)
	}
	if f.state.users[7].Role != enums.RoleStandard {
		t.Fatalf("role must be unchanged after conflict")
	}

	if res := f.svc.UpdateRole(context.Background(), 7, 1, 5, enums.RoleModerator); !res.Success {
		t.Fatalf("fresh version must win: %s", res.Message)
	}
	if f.state.users[7].Role != enums.RoleModerator {
		t.Fatalf("expected moderator role after successful write")
	}
}
