package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/ratewatch/ratewatch/internal/core"
)

const desktopName = "desktop"

// DesktopNotifier raises a local OS notification.
type DesktopNotifier struct {
	// Notify defaults to beeep.Notify.
	Notify func(title, message string, icon any) error
}

func NewDesktop() *DesktopNotifier {
	return &DesktopNotifier{Notify: beeep.Notify}
}

func (d *DesktopNotifier) Name() string { return desktopName }

// Send uses the first line as the title and the rest as the body.
func (d *DesktopNotifier) Send(_ context.Context, message string) error {
	notify := beeep.Notify
	if d != nil && d.Notify != nil {
		notify = d.Notify
	}

	title, body, found := strings.Cut(message, "\n")
	if !found {
		body = title
	}
	if err := notify(title, body, ""); err != nil {
		return fmt.Errorf("%w: desktop: %v", core.ErrNotify, err)
	}
	return nil
}
