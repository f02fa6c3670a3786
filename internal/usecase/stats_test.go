package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

func TestGetSessionStats(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	web := h.issue(t, webRequest("u-1"))
	h.clock.Advance(time.Minute)

	mobile := webRequest("u-1")
	mobile.DeviceInfo = domain.DeviceInfo{Platform: domain.PlatformIOS, Browser: "Safari", OS: "iOS", IsMobile: true}
	mobile.IPAddress = "192.168.7.3"
	mobile.LoginMethod = domain.LoginMethodOAuth
	h.issue(t, mobile)

	h.issue(t, webRequest("u-2"))
	h.manager.BlacklistTokenPair(ctx, web.AccessToken, "", "")

	stats, err := h.manager.GetSessionStats(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetSessionStats returned error: %v", err)
	}
	if stats.TotalSessions != 2 || stats.ActiveSessions != 2 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.ByPlatform["web"] != 1 || stats.ByPlatform["ios"] != 1 {
		t.Fatalf("unexpected platform breakdown: %v", stats.ByPlatform)
	}
	if stats.ByLoginMethod[domain.LoginMethodUnknown] != 1 || stats.ByLoginMethod[domain.LoginMethodOAuth] != 1 {
		t.Fatalf("unexpected login method breakdown: %v", stats.ByLoginMethod)
	}
	if stats.ByLocation["10.0.*.*"] != 1 || stats.ByLocation["192.168.*.*"] != 1 {
		t.Fatalf("unexpected location breakdown: %v", stats.ByLocation)
	}
	if stats.TrackedDevices != 2 || stats.NewDevices != 2 {
		t.Fatalf("unexpected device counts: tracked=%d new=%d", stats.TrackedDevices, stats.NewDevices)
	}
	if stats.BlacklistSize != 0 {
		t.Fatalf("expected subject stats to omit the blacklist size, got %d", stats.BlacklistSize)
	}
	if stats.OldestActivity == nil || stats.NewestActivity == nil || !stats.NewestActivity.After(*stats.OldestActivity) {
		t.Fatalf("unexpected activity bounds: %v %v", stats.OldestActivity, stats.NewestActivity)
	}

	global, err := h.manager.GetSessionStats(ctx, "")
	if err != nil {
		t.Fatalf("GetSessionStats returned error: %v", err)
	}
	if global.TotalSessions != 3 || global.TrackedDevices != 3 {
		t.Fatalf("unexpected global stats: %+v", global)
	}
	if global.BlacklistSize != 1 {
		t.Fatalf("expected global blacklist size 1, got %d", global.BlacklistSize)
	}

	h.clock.Advance(25 * time.Hour)
	later, _ := h.manager.GetSessionStats(ctx, "u-1")
	if later.ActiveSessions != 0 || later.NewDevices != 0 || later.TrackedDevices != 2 {
		t.Fatalf("unexpected stats after expiry: %+v", later)
	}
}
