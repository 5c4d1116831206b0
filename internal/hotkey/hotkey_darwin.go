//go:build darwin

package hotkey

/*
#cgo LDFLAGS: -framework Carbon
#include <Carbon/Carbon.h>

// Forward declaration for Go callback
extern void goHotkeyCallback(int pressed);

static EventHotKeyRef hotKeyRef = NULL;
static EventHandlerRef handlerRef = NULL;

// Event handler for hotkeys
static OSStatus hotkeyHandler(EventHandlerCallRef nextHandler, EventRef theEvent, void* userData) {
    UInt32 eventKind = GetEventKind(theEvent);
    goHotkeyCallback(eventKind == kEventHotKeyPressed ? 1 : 0);
    return noErr;
}

static int installHandler() {
    if (handlerRef != NULL) return 1;

    EventTypeSpec eventTypes[2];
    eventTypes[0].eventClass = kEventClassKeyboard;
    eventTypes[0].eventKind = kEventHotKeyPressed;
    eventTypes[1].eventClass = kEventClassKeyboard;
    eventTypes[1].eventKind = kEventHotKeyReleased;

    OSStatus status = InstallApplicationEventHandler(NewEventHandlerUPP(hotkeyHandler), 2, eventTypes, NULL, &handlerRef);
    return status == noErr ? 1 : 0;
}

static int registerHotkey(UInt32 keyCode, UInt32 modifiers) {
    if (!installHandler()) return 0;

    EventHotKeyID hotKeyID;
    hotKeyID.signature = 'voxg';
    hotKeyID.id = 1;

    OSStatus status = RegisterEventHotKey(keyCode, modifiers, hotKeyID, GetApplicationEventTarget(), 0, &hotKeyRef);
    return status == noErr ? 1 : 0;
}

static void unregisterHotkey() {
    if (hotKeyRef != NULL) {
        UnregisterEventHotKey(hotKeyRef);
        hotKeyRef = NULL;
    }
}
*/
import "C"

import (
	"fmt"
	"sync"
)

// Carbon delivers every hotkey to one C handler, so a single chord is
// supported at a time.
var (
	globalMu       sync.Mutex
	globalCallback func(bool)
)

type darwinManager struct {
	mu    sync.Mutex
	accel string
}

// New creates a macOS hotkey manager using Carbon. The tray's event loop
// must be running for callbacks to fire.
func New() (Manager, error) {
	return &darwinManager{}, nil
}

//export goHotkeyCallback
func goHotkeyCallback(pressed C.int) {
	globalMu.Lock()
	cb := globalCallback
	globalMu.Unlock()
	if cb != nil {
		cb(pressed == 1)
	}
}

func (m *darwinManager) Register(accel string, callback func(pressed bool)) error {
	chord, err := Parse(accel)
	if err != nil {
		return err
	}
	code, mods, ok := carbonChord(chord)
	if !ok {
		return fmt.Errorf("hotkey %q: no key code for %s", accel, chord.Key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accel != "" {
		return fmt.Errorf("hotkey %q already registered", m.accel)
	}

	globalMu.Lock()
	globalCallback = callback
	globalMu.Unlock()

	if C.registerHotkey(C.UInt32(code), C.UInt32(mods)) == 0 {
		globalMu.Lock()
		globalCallback = nil
		globalMu.Unlock()
		return fmt.Errorf("failed to register hotkey %s", chord)
	}
	m.accel = accel
	return nil
}

func (m *darwinManager) Unregister(accel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accel == "" || m.accel != accel {
		return fmt.Errorf("hotkey %q is not registered", accel)
	}
	C.unregisterHotkey()
	globalMu.Lock()
	globalCallback = nil
	globalMu.Unlock()
	m.accel = ""
	return nil
}

func (m *darwinManager) Close() error {
	m.mu.Lock()
	accel := m.accel
	m.mu.Unlock()
	if accel == "" {
		return nil
	}
	return m.Unregister(accel)
}
