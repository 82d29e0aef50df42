package flash

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/protocol/msp"
	"github.com/flightpath-dev/flightcore/internal/transport"
)

// mavCmdPreflightRebootShutdown is MAVLink's standard reboot/shutdown
// command; param1=3 asks ArduPilot-family autopilots to reboot and hold
// in the bootloader until a firmware upload arrives.
const mavCmdPreflightRebootShutdown = 246

// rebootCommandTimeout is a time budget for the protocol-level reboot
// command. sendRebootCommand does not apply it: the command is written
// once and no ack is awaited (a board that's about to reset may never
// send one).
const rebootCommandTimeout = 500 * time.Millisecond

// doEnterBootloader implements spec.md §4.8's EnteringBootloader stage.
// It returns (reopenedTransport, manualBootRequired, err).
func (r *Runner) doEnterBootloader(ctx context.Context, l *link.Link) (transport.Transport, bool, error) {
	if r.job.Target.Flasher == FlasherSerial {
		return nil, true, nil
	}

	if !r.job.Options.NoRebootSequence {
		if err := r.sendRebootCommand(ctx, l); err != nil {
			// Best-effort: the board may reset before acking.
			_ = err
		}
	}

	l.Close()
	time.Sleep(rebootSettleDelay)

	if r.deps.ReopenTransport == nil {
		return nil, false, fmt.Errorf("no ReopenTransport configured")
	}

	deadline := time.Now().Add(renumerationTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		t, err := r.deps.ReopenTransport(ctx)
		if err == nil {
			return t, false, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timed out waiting for port to re-enumerate")
	}
	return nil, false, lastErr
}

// sendRebootCommand issues the protocol-specific reboot-to-bootloader
// command. MAVLink boards get COMMAND_LONG(MAV_CMD_PREFLIGHT_REBOOT_
// SHUTDOWN, param1=3); MSP-only boards (Betaflight/iNav) get
// MSP_SET_REBOOT with the bootloader mode byte instead — chosen by which
// decoder is enabled on l.
func (r *Runner) sendRebootCommand(ctx context.Context, l *link.Link) error {
	if l.MavlinkEnabled() {
		cmd := &common.MessageCommandLong{Command: mavCmdPreflightRebootShutdown, Param1: 3, TargetSystem: 1, TargetComponent: 1}
		return l.WriteMavlink(cmd)
	}
	return l.WriteMSP(msp.Reboot, []byte{1})
}

func (r *Runner) doErase(img *ParsedImage) error {
	switch r.job.Target.Flasher {
	case FlasherSTM32Bootloader:
		client := r.bootloaderClient()
		if err := client.WaitForInitAck(2*time.Second, 200*time.Millisecond); err != nil {
			return fmt.Errorf("bootloader init: %w", err)
		}
		return stm32Erase(client, img, r.job.PageSizeBytes, r.job.Options.FullChipErase)
	case FlasherDFU, FlasherAVRDude:
		// dfu-util -D and avrdude -U both erase the pages they write;
		// folded into Programming for these flashers.
		return nil
	default:
		return fmt.Errorf("flash: unknown flasher %q", r.job.Target.Flasher)
	}
}

func (r *Runner) doProgram(ctx context.Context, img *ParsedImage) (int64, error) {
	switch r.job.Target.Flasher {
	case FlasherSTM32Bootloader:
		client := r.bootloaderClient()
		var written int64
		err := stm32Program(client, img, func(done, total int64) {
			written = done
			r.emitProgress(ctx, "Programming", done, total, nil)
		})
		return written, err

	case FlasherDFU:
		binaryPath, err := writeTempBin(img.Data)
		if err != nil {
			return 0, err
		}
		alt, serial, offset := r.job.Target.DFUAltSetting, r.job.Target.DFUSerial, r.job.Target.DFUFlashOffset
		if alt == "" || serial == "" || offset == "" {
			dev, err := dfuWaitForDevice(ctx, renumerationTimeout)
			if err != nil {
				return 0, err
			}
			if alt, serial, offset, err = parseDfuDevice(dev); err != nil {
				return 0, err
			}
		}
		if err := dfuFlash(ctx, alt, serial, offset, binaryPath); err != nil {
			return 0, err
		}
		return int64(len(img.Data)), nil

	case FlasherAVRDude:
		binaryPath, err := writeTempBin(img.Data)
		if err != nil {
			return 0, err
		}
		t := r.job.Target
		if err := avrdudeFlash(ctx, t.AVRPart, t.AVRProgrammer, t.AVRDevicePath, binaryPath, r.job.Options.VerifyAfterWrite); err != nil {
			return 0, err
		}
		return int64(len(img.Data)), nil

	default:
		return 0, fmt.Errorf("flash: unknown flasher %q", r.job.Target.Flasher)
	}
}

func (r *Runner) doVerify(img *ParsedImage) error {
	if !r.job.Options.VerifyAfterWrite {
		return nil
	}
	switch r.job.Target.Flasher {
	case FlasherSTM32Bootloader:
		return stm32VerifyReadback(r.bootloaderClient(), img)
	default:
		// DFU/avrdude verify themselves when asked; nothing further to do.
		return nil
	}
}

func (r *Runner) doReboot(img *ParsedImage) error {
	switch r.job.Target.Flasher {
	case FlasherSTM32Bootloader:
		if err := r.bootloaderClient().Go(img.BaseAddress); err != nil {
			return err
		}
		return r.reopened.Close()
	case FlasherDFU:
		// dfu-util's ":leave" suffix already reset the device.
		return nil
	default:
		return nil
	}
}

// attemptSafeExit is Aborting's best-effort escape per spec.md §4.8:
// STM32 GO to the application, or DFU detach. Failures here are
// swallowed — abort always ends in Error{Aborted} regardless of whether
// the safe exit itself succeeded.
func (r *Runner) attemptSafeExit(img *ParsedImage) {
	if r.reopened == nil {
		return
	}
	switch r.job.Target.Flasher {
	case FlasherSTM32Bootloader:
		_ = r.bootloaderClient().Go(img.BaseAddress)
	}
	_ = r.reopened.Close()
}

// runPostFlashHook checks PostFlashSteps for one applicable to this
// target and, if found, reconnects and runs it. Returns the hook's name
// on success, "" if none applied.
func (r *Runner) runPostFlashHook(ctx context.Context) (string, error) {
	var hook *PostFlashStep
	for i := range PostFlashSteps {
		if PostFlashSteps[i].Applies(r.job.Target) {
			hook = &PostFlashSteps[i]
			break
		}
	}
	if hook == nil {
		return "", nil
	}
	if r.deps.ReopenTransport == nil {
		return "", fmt.Errorf("no ReopenTransport configured for post-flash hook %s", hook.Name)
	}

	time.Sleep(hook.SettleDelay)

	var lastErr error
	for attempt := 0; attempt < hook.ReconnectAttempts; attempt++ {
		t, err := r.deps.ReopenTransport(ctx)
		if err != nil {
			lastErr = err
			time.Sleep(hook.ReconnectInterval)
			continue
		}

		l := link.New(t, link.DefaultIdentity)
		l.EnableMSP()
		linkCtx, cancel := context.WithCancel(ctx)
		go l.Start(linkCtx)

		err = hook.Apply(ctx, l)
		cancel()
		l.Close()
		if err == nil {
			return hook.Name, nil
		}
		lastErr = err
		time.Sleep(hook.ReconnectInterval)
	}
	return "", fmt.Errorf("post-flash hook %s: %w", hook.Name, lastErr)
}
