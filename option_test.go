package chat

import (
	"errors"
	"testing"
	"time"
)

func TestCommandSeparatorOption(t *testing.T) {
	var opts options
	CommandSeparatorOption(":")(&opts)

	if opts.commandSeparator != ":" {
		t.Errorf("commandSeparator = %q, want ':'", opts.commandSeparator)
	}
}

func TestTrustAnchorOption(t *testing.T) {
	var opts options
	TrustAnchorOption("ca.pem")(&opts)

	if opts.trustAnchor != "ca.pem" {
		t.Errorf("trustAnchor = %q, want 'ca.pem'", opts.trustAnchor)
	}
}

func TestTimeoutOptions(t *testing.T) {
	var opts options
	for _, opt := range []Option{
		DialTimeoutOption(time.Second),
		HandshakeTimeoutOption(2 * time.Second),
		PollIntervalOption(3 * time.Second),
		WriteTimeoutOption(4 * time.Second),
	} {
		opt(&opts)
	}

	if opts.dialTimeout != time.Second {
		t.Errorf("dialTimeout = %v", opts.dialTimeout)
	}
	if opts.handshakeTimeout != 2*time.Second {
		t.Errorf("handshakeTimeout = %v", opts.handshakeTimeout)
	}
	if opts.pollInterval != 3*time.Second {
		t.Errorf("pollInterval = %v", opts.pollInterval)
	}
	if opts.writeTimeout != 4*time.Second {
		t.Errorf("writeTimeout = %v", opts.writeTimeout)
	}
}

func TestCallbackOptions(t *testing.T) {
	var (
		opts         options
		output       string
		disconnected error
	)
	OnOutputOption(func(line string) { output = line })(&opts)
	OnDisconnectOption(func(reason error) { disconnected = reason })(&opts)
	OnFrameErrorOption(func(error) ErrorAction { return Continue })(&opts)

	opts.onOutput("hello")
	opts.onDisconnect(ErrPeerClosed)

	if output != "hello" {
		t.Errorf("output = %q, want 'hello'", output)
	}
	if disconnected != ErrPeerClosed {
		t.Errorf("disconnected = %v, want ErrPeerClosed", disconnected)
	}
	if opts.onFrameError(ErrMalformedFrame) != Continue {
		t.Error("onFrameError should return Continue")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}

	var opts options
	LoggerOption(logger)(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestCheckOptions_DefaultValues(t *testing.T) {
	opts := &options{}
	if err := checkOptions(opts); err != nil {
		t.Fatalf("checkOptions failed: %v", err)
	}

	if opts.commandSeparator != DefaultCommandSeparator {
		t.Errorf("commandSeparator = %q", opts.commandSeparator)
	}
	if opts.dialTimeout != defaultDialTimeout {
		t.Errorf("dialTimeout = %v", opts.dialTimeout)
	}
	if opts.handshakeTimeout != defaultHandshakeTimeout {
		t.Errorf("handshakeTimeout = %v", opts.handshakeTimeout)
	}
	if opts.pollInterval != defaultPollInterval {
		t.Errorf("pollInterval = %v", opts.pollInterval)
	}
	if opts.writeTimeout != defaultWriteTimeout {
		t.Errorf("writeTimeout = %v", opts.writeTimeout)
	}
	if opts.onOutput == nil || opts.onDisconnect == nil || opts.onFrameError == nil {
		t.Error("callbacks should have default values")
	}
	if opts.onFrameError(errors.New("test")) != Disconnect {
		t.Error("default onFrameError should return Disconnect")
	}
	if opts.logger == nil {
		t.Error("logger should have default value")
	}
}

func TestCheckOptions_InvalidSeparator(t *testing.T) {
	for _, sep := range []string{"ab", " ", "\t", "\x01"} {
		opts := &options{commandSeparator: sep}
		if err := checkOptions(opts); !errors.Is(err, ErrInvalidCommandSeparator) {
			t.Errorf("separator %q: expected ErrInvalidCommandSeparator, got %v", sep, err)
		}
	}
}

func TestErrorAction(t *testing.T) {
	if Disconnect != 0 {
		t.Errorf("Disconnect = %d, want 0", Disconnect)
	}
	if Continue != 1 {
		t.Errorf("Continue = %d, want 1", Continue)
	}
}
