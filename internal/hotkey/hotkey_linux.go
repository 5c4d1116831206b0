//go:build linux && cgo

package hotkey

/*
#cgo pkg-config: x11
#include <X11/Xlib.h>
#include <stdlib.h>

static Display* displayPtr = NULL;

static int openDisplay() {
    if (displayPtr == NULL) {
        displayPtr = XOpenDisplay(NULL);
    }
    return displayPtr != NULL;
}

static int keycodeFor(const char* name) {
    KeySym sym = XStringToKeysym(name);
    if (sym == NoSymbol) return 0;
    return XKeysymToKeycode(displayPtr, sym);
}

static void grabKey(int keycode, unsigned int modifiers) {
    Window root = DefaultRootWindow(displayPtr);
    // Grab with and without CapsLock and NumLock so the chord works either way.
    unsigned int extra[4] = {0, LockMask, Mod2Mask, LockMask | Mod2Mask};
    for (int i = 0; i < 4; i++) {
        XGrabKey(displayPtr, keycode, modifiers | extra[i], root, False, GrabModeAsync, GrabModeAsync);
    }
    XSelectInput(displayPtr, root, KeyPressMask | KeyReleaseMask);
    XSync(displayPtr, False);
}

static void ungrabKey(int keycode, unsigned int modifiers) {
    Window root = DefaultRootWindow(displayPtr);
    unsigned int extra[4] = {0, LockMask, Mod2Mask, LockMask | Mod2Mask};
    for (int i = 0; i < 4; i++) {
        XUngrabKey(displayPtr, keycode, modifiers | extra[i], root);
    }
    XSync(displayPtr, False);
}

static int checkEvent(int* keycode, int* pressed) {
    if (displayPtr == NULL) return 0;

    XEvent event;
    if (XPending(displayPtr) > 0) {
        XNextEvent(displayPtr, &event);
        if (event.type == KeyPress || event.type == KeyRelease) {
            *keycode = event.xkey.keycode;
            *pressed = (event.type == KeyPress) ? 1 : 0;
            return 1;
        }
    }
    return 0;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"
)

type grab struct {
	keycode  int
	mods     uint32
	callback func(bool)
}

type linuxManager struct {
	mu    sync.Mutex
	grabs map[string]grab // by accelerator
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// New creates a Linux hotkey manager using X11. Xlib is not thread safe, so
// every display call after New happens on the event loop or under mu.
func New() (Manager, error) {
	if C.openDisplay() == 0 {
		return nil, errors.New("cannot open X display")
	}

	mgr := &linuxManager{
		grabs: make(map[string]grab),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go mgr.eventLoop()
	return mgr, nil
}

func (m *linuxManager) Register(accel string, callback func(pressed bool)) error {
	chord, err := Parse(accel)
	if err != nil {
		return err
	}
	keysym, mods := x11Chord(chord)

	name := C.CString(keysym)
	defer C.free(unsafe.Pointer(name))

	m.mu.Lock()
	defer m.mu.Unlock()

	keycode := int(C.keycodeFor(name))
	if keycode == 0 {
		return fmt.Errorf("hotkey %q: no keycode for keysym %s", accel, keysym)
	}
	C.grabKey(C.int(keycode), C.uint(mods))
	m.grabs[accel] = grab{keycode: keycode, mods: mods, callback: callback}
	return nil
}

func (m *linuxManager) eventLoop() {
	defer close(m.done)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *linuxManager) poll() {
	var keycode, pressed C.int

	m.mu.Lock()
	got := C.checkEvent(&keycode, &pressed) != 0
	var cb func(bool)
	if got {
		for _, g := range m.grabs {
			if g.keycode == int(keycode) {
				cb = g.callback
				break
			}
		}
	}
	m.mu.Unlock()

	if cb != nil {
		cb(pressed == 1)
	}
}

func (m *linuxManager) Unregister(accel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grabs[accel]
	if !ok {
		return fmt.Errorf("hotkey %q is not registered", accel)
	}
	C.ungrabKey(C.int(g.keycode), C.uint(g.mods))
	delete(m.grabs, accel)
	return nil
}

func (m *linuxManager) Close() error {
	m.once.Do(func() {
		close(m.stop)
		<-m.done

		m.mu.Lock()
		defer m.mu.Unlock()
		for accel, g := range m.grabs {
			C.ungrabKey(C.int(g.keycode), C.uint(g.mods))
			delete(m.grabs, accel)
		}
	})
	return nil
}
