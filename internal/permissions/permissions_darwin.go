//go:build darwin

package permissions

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AVFoundation -framework ApplicationServices
#import <AVFoundation/AVFoundation.h>
#import <ApplicationServices/ApplicationServices.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}

int checkAccessibilityPermission(int prompt) {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: prompt ? @YES : @NO};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() int {
	return int(C.checkMicrophonePermission())
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() {
	C.requestMicrophonePermission()
}

// EnsureMicrophone asks for access if it has not been decided yet and
// reports whether capture may proceed.
func EnsureMicrophone() error {
	status := CheckMicrophone()
	if status == PermissionNotDetermined {
		RequestMicrophone()
	}
	return statusError(status)
}

// CheckAccessibility reports whether the process may receive global hotkeys.
func CheckAccessibility() bool {
	return C.checkAccessibilityPermission(0) == 1
}

// EnsureAccessibility prompts for accessibility access when it is missing.
func EnsureAccessibility() error {
	return accessibilityError(C.checkAccessibilityPermission(1) == 1)
}
