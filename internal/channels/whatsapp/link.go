package whatsapp

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const syncTimeout = 30 * time.Second

// LinkDevice pairs a new device by QR code. The code is drawn on out and
// LinkDevice waits until the phone scanned it and the initial sync is done.
func LinkDevice(ctx context.Context, dbPath string, out io.Writer) error {
	store, err := openStore(ctx, dbPath, &logAdapter{module: "store"})
	if err != nil {
		return err
	}
	defer store.Close()

	// stale devices from earlier attempts would be picked by GetFirstDevice
	oldDevices, err := store.container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list existing devices: %w", err)
	}
	for _, d := range oldDevices {
		fmt.Fprintf(out, "Removing stale device: %s\n", deviceName(d.ID))
		_ = d.Delete(ctx)
	}

	device := store.container.NewDevice()
	client := whatsmeow.NewClient(device, &logAdapter{module: "client"})

	// The QR "success" event only means the scan was accepted; disconnecting
	// before Connected fires leaves the pairing incomplete.
	connectedCh := make(chan struct{}, 1)
	client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			select {
			case connectedCh <- struct{}{}:
			default:
			}
		}
	})

	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Disconnect()

	fmt.Fprintln(out, "Scan the QR code below with the WhatsApp app of the bot number:")
	fmt.Fprintln(out, "  WhatsApp > Settings > Linked Devices > Link a Device")
	fmt.Fprintln(out)

	for item := range qrChan {
		switch item.Event {
		case "code":
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, out)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Waiting for scan...")
		case "success":
			fmt.Fprintln(out, "\nScan accepted, completing initial sync...")
			select {
			case <-connectedCh:
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(syncTimeout):
				return fmt.Errorf("timed out waiting for initial sync, try again")
			}
			fmt.Fprintf(out, "Paired successfully! JID: %s\n", client.Store.ID)
			fmt.Fprintln(out, "Enable channels.whatsapp in reportbot.json and start the bot.")
			return nil
		case "timeout":
			return fmt.Errorf("QR code expired, run the command again")
		default:
			return fmt.Errorf("pairing failed: %s", item.Event)
		}
	}
	return fmt.Errorf("QR channel closed unexpectedly")
}

// UnlinkDevice removes the stored WhatsApp session, requiring re-pairing.
func UnlinkDevice(ctx context.Context, dbPath string, out io.Writer) error {
	resolved, err := resolveDBPath(dbPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return fmt.Errorf("no WhatsApp session found (no %s)", resolved)
	}

	store, err := openStore(ctx, dbPath, &logAdapter{module: "store"})
	if err != nil {
		return err
	}
	defer store.Close()

	devices, err := store.container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("no paired devices found")
	}

	for _, device := range devices {
		jid := deviceName(device.ID)
		if err := device.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete device %s: %w", jid, err)
		}
		fmt.Fprintf(out, "Removed device: %s\n", jid)
	}

	fmt.Fprintln(out, "WhatsApp session cleared. Run 'reportbot whatsapp link' to re-pair.")
	return nil
}

// PairingStatus describes the devices in the store.
type PairingStatus struct {
	DBPath  string
	Devices []string
}

// Paired reports whether at least one device is linked.
func (s PairingStatus) Paired() bool {
	return len(s.Devices) > 0
}

// DeviceStatus reads the pairing state without connecting.
func DeviceStatus(ctx context.Context, dbPath string) (*PairingStatus, error) {
	resolved, err := resolveDBPath(dbPath)
	if err != nil {
		return nil, err
	}
	status := &PairingStatus{DBPath: resolved}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return status, nil
	}

	store, err := openStore(ctx, dbPath, waLog.Noop)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	devices, err := store.container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		status.Devices = append(status.Devices, deviceName(d.ID))
	}
	return status, nil
}

func deviceName(id *types.JID) string {
	if id == nil {
		return "(unknown)"
	}
	return id.String()
}
