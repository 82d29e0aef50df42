package core

import (
	"context"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/flightpath-dev/flightcore/internal/firmware"
	"github.com/flightpath-dev/flightcore/internal/flash"
	"github.com/flightpath-dev/flightcore/internal/mission"
	"github.com/flightpath-dev/flightcore/internal/modes"
	"github.com/flightpath-dev/flightcore/internal/params"
	"github.com/flightpath-dev/flightcore/internal/telemetry"
)

// --- Firmware manifest (spec.md §6: fetchBoards/fetchVersions/downloadFirmware) ---

// FetchBoards lists the boards a source's catalogue carries for vehicle.
// ArduPilotSource and GitHubSource don't share an exported interface
// (their Versions signatures differ, per internal/firmware's spec.md
// §4.7 grounding: GitHub releases have no per-vehicle axis), so Session
// branches on firmware.Source instead of holding one through an
// interface value.
func (s *Session) FetchBoards(ctx context.Context, source firmware.Source, vehicle firmware.Vehicle) ([]firmware.Board, error) {
	if source != firmware.SourceArduPilot {
		return nil, fmt.Errorf("core: fetchBoards is only implemented for ArduPilot's manifest (source %q has no board catalogue, only per-target releases)", source)
	}
	ap := firmware.NewArduPilotSource(nil, "")
	return ap.Boards(ctx, vehicle)
}

// FetchVersions lists downloadable builds for a board. boardTarget is the
// ArduPilot numeric board_id for source == ardupilot, or the release-asset
// filename prefix (e.g. "MATEKF405") for px4/betaflight/inav.
func (s *Session) FetchVersions(ctx context.Context, source firmware.Source, vehicle firmware.Vehicle, boardTarget string, boardID int) ([]firmware.FirmwareVersion, error) {
	if source == firmware.SourceArduPilot {
		ap := firmware.NewArduPilotSource(nil, "")
		return ap.Versions(ctx, vehicle, boardID)
	}
	gh, err := firmware.NewGitHubSource(nil, source)
	if err != nil {
		return nil, err
	}
	return gh.Versions(ctx, boardTarget)
}

// DownloadFirmware fetches v into the content-addressed cache and returns
// its on-disk path.
func (s *Session) DownloadFirmware(ctx context.Context, source firmware.Source, boardTarget, versionLabel string, v firmware.FirmwareVersion, expectedSHA256 string, onProgress firmware.ProgressFunc) (string, error) {
	return s.cache.Download(ctx, source, boardTarget, versionLabel, v, expectedSHA256, onProgress)
}

// --- Flash (spec.md §6: flash(job)) ---

// FlashJob is the shell-facing request; Session fills in the
// Transport-touching flash.Dependencies the flash package itself doesn't
// know how to construct (the reopen-after-reset callback and the event
// bus).
type FlashJob struct {
	ImagePath string
	Download  *flash.DownloadSpec
	Target    flash.Target
	Options   flash.Options
	PageSizeBytes uint32
}

// Flash drives one firmware flash to completion. It claims the
// single-transfer lock for the duration of the run (spec.md §4 invariant
// 2) and releases it on return, including on abort or error.
func (s *Session) Flash(ctx context.Context, job FlashJob) (*flash.Result, error) {
	release, err := s.acquireBusy("flash")
	if err != nil {
		return nil, err
	}
	defer release()

	l, err := s.link()
	if err != nil {
		return nil, err
	}

	runner := flash.NewRunner(flash.Dependencies{
		Bus:             s.bus,
		ReopenTransport: s.reopenTransport,
	}, flash.Job{
		ImagePath:     job.ImagePath,
		Download:      job.Download,
		Target:        job.Target,
		Options:       job.Options,
		PageSizeBytes: job.PageSizeBytes,
	})

	s.mu.Lock()
	s.flashRunner = runner
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.flashRunner = nil
		s.mu.Unlock()
	}()

	return runner.Run(ctx, l)
}

// AbortFlash requests a safe-exit stop of any flash currently in progress
// on this Session. A no-op if no flash is running.
func (s *Session) AbortFlash() {
	s.mu.Lock()
	r := s.flashRunner
	s.mu.Unlock()
	if r != nil {
		r.Abort()
	}
}

// --- Parameters (spec.md §6: getParam/setParam/dumpParams) ---

func (s *Session) paramService() (*params.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paramSvc == nil {
		return nil, &ErrNotConnected{}
	}
	return s.paramSvc, nil
}

func (s *Session) GetParam(id string) (params.Param, bool, error) {
	svc, err := s.paramService()
	if err != nil {
		return params.Param{}, false, err
	}
	p, ok := svc.Get(id)
	return p, ok, nil
}

func (s *Session) SetParam(ctx context.Context, id string, value float32, paramType uint8) error {
	svc, err := s.paramService()
	if err != nil {
		return err
	}
	return svc.Set(ctx, id, value, paramType)
}

// DumpParams claims the single-transfer lock and requests the full
// parameter set from the FC.
func (s *Session) DumpParams(ctx context.Context) ([]params.Param, error) {
	svc, err := s.paramService()
	if err != nil {
		return nil, err
	}
	release, err := s.acquireBusy("param dump")
	if err != nil {
		return nil, err
	}
	defer release()
	return svc.RequestAll(ctx)
}

// --- Mission/rally (spec.md §6) ---

func (s *Session) missionService() (*mission.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missionSvc == nil {
		return nil, &ErrNotConnected{}
	}
	return s.missionSvc, nil
}

func (s *Session) DownloadMission(ctx context.Context) ([]mission.Item, error) {
	svc, err := s.missionService()
	if err != nil {
		return nil, err
	}
	release, err := s.acquireBusy("mission download")
	if err != nil {
		return nil, err
	}
	defer release()
	return svc.Download(ctx, mission.TypeMission)
}

func (s *Session) UploadMission(ctx context.Context, items []mission.Item) error {
	svc, err := s.missionService()
	if err != nil {
		return err
	}
	release, err := s.acquireBusy("mission upload")
	if err != nil {
		return err
	}
	defer release()
	return svc.Upload(ctx, mission.TypeMission, items)
}

func (s *Session) ClearMission(ctx context.Context) error {
	svc, err := s.missionService()
	if err != nil {
		return err
	}
	release, err := s.acquireBusy("mission clear")
	if err != nil {
		return err
	}
	defer release()
	return svc.Clear(ctx, mission.TypeMission)
}

func (s *Session) DownloadRally(ctx context.Context) ([]mission.RallyPoint, error) {
	svc, err := s.missionService()
	if err != nil {
		return nil, err
	}
	release, err := s.acquireBusy("rally download")
	if err != nil {
		return nil, err
	}
	defer release()
	return svc.DownloadRally(ctx)
}

func (s *Session) UploadRally(ctx context.Context, points []mission.RallyPoint) error {
	svc, err := s.missionService()
	if err != nil {
		return err
	}
	release, err := s.acquireBusy("rally upload")
	if err != nil {
		return err
	}
	defer release()
	return svc.UploadRally(ctx, points)
}

func (s *Session) ClearRally(ctx context.Context) error {
	svc, err := s.missionService()
	if err != nil {
		return err
	}
	release, err := s.acquireBusy("rally clear")
	if err != nil {
		return err
	}
	defer release()
	return svc.ClearRally(ctx)
}

// --- Modes (spec.md §6: readModeRanges/writeModeRange/saveEeprom/reboot) ---

func (s *Session) modeService() (*modes.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modeSvc == nil {
		return nil, &ErrNotConnected{}
	}
	return s.modeSvc, nil
}

func (s *Session) ReadModeRanges(ctx context.Context) ([]modes.ModeRange, error) {
	svc, err := s.modeService()
	if err != nil {
		return nil, err
	}
	return svc.ReadModeRanges(ctx)
}

func (s *Session) WriteModeRange(ctx context.Context, slot int, r modes.ModeRange) error {
	svc, err := s.modeService()
	if err != nil {
		return err
	}
	return svc.WriteModeRange(ctx, slot, r)
}

func (s *Session) SaveEeprom(ctx context.Context) error {
	svc, err := s.modeService()
	if err != nil {
		return err
	}
	return svc.SaveEeprom(ctx)
}

// RebootMode selects between a normal restart and a restart that drops
// straight into the bootloader, per spec.md §6's reboot(mode).
type RebootMode string

const (
	RebootNormal     RebootMode = "normal"
	RebootBootloader RebootMode = "bootloader"
)

// mavCmdPreflightRebootShutdown mirrors internal/flash/stages.go's own
// constant; duplicated rather than exported from flash because it's a
// MAVLink protocol constant, not a flash-FSM detail.
const mavCmdPreflightRebootShutdown = 246

// Reboot issues the protocol-specific reboot command spec.md §4.8 also
// uses for EnteringBootloader, exposed standalone for an operator-driven
// restart outside a flash run.
func (s *Session) Reboot(ctx context.Context, mode RebootMode) error {
	l, err := s.link()
	if err != nil {
		return err
	}

	if l.MavlinkEnabled() {
		param1 := float32(1)
		if mode == RebootBootloader {
			param1 = 3
		}
		return l.WriteMavlink(&common.MessageCommandLong{
			Command: mavCmdPreflightRebootShutdown, Param1: param1,
			TargetSystem: 1, TargetComponent: 1,
		})
	}
	if l.MSPEnabled() {
		payload := []byte{0}
		if mode == RebootBootloader {
			payload = []byte{1}
		}
		return l.WriteMSP(mspRebootCode, payload)
	}
	return fmt.Errorf("core: reboot requires a MAVLink or MSP link")
}

const mspRebootCode = 68

// --- Telemetry (spec.md §6: subscribeTelemetry/unsubscribe) ---

func (s *Session) telemetryService() (*telemetry.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.telemSvc == nil {
		return nil, &ErrNotConnected{}
	}
	return s.telemSvc, nil
}

func (s *Session) SubscribeTelemetry(ctx context.Context, stream telemetry.Stream, rateHz int) (telemetry.Token, error) {
	svc, err := s.telemetryService()
	if err != nil {
		return 0, err
	}
	return svc.Subscribe(ctx, stream, rateHz)
}

func (s *Session) UnsubscribeTelemetry(token telemetry.Token) error {
	svc, err := s.telemetryService()
	if err != nil {
		return err
	}
	svc.Unsubscribe(token)
	return nil
}
