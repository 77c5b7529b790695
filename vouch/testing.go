package vouch

import (
	"log/slog"

	"github.com/fuelcart/vouch/ledger"
	"github.com/fuelcart/vouch/platform"
	"github.com/fuelcart/vouch/watermark"
)

const (
	TestCommunity         = "100"
	TestSubmissionChannel = "200"
	TestReviewChannel     = "300"
	TestStaffRole         = "staff"
)

// EngineTestFixture returns an engine over an in-memory ledger and a
// recording sink, with artifacts written under tempDir.
func EngineTestFixture(tempDir string) (*Engine, *ledger.MemLedger, *platform.MockSink) {
	l := ledger.NewMemLedger()
	sink := platform.NewMockSink()
	cfg := Config{
		SubmissionChannel: TestSubmissionChannel,
		ReviewChannel:     TestReviewChannel,
		ServerName:        "Fuel Cart",
		StaffRole:         TestStaffRole,
		BotUserID:         "999",
		TempDir:           tempDir,
	}
	eng := NewEngine(cfg, l, ledger.Scope{PerCommunity: true}, &watermark.Pipeline{Text: "TEST"}, sink, slog.Default())
	return eng, l, sink
}
