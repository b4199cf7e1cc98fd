package gitexec

import "testing"

func TestOptionsDefaults(t *testing.T) {
	var o Options
	if o.timeout() != DefaultTimeout {
		t.Errorf("timeout() = %v, want %v", o.timeout(), DefaultTimeout)
	}
	if o.perWriteTimeout() != DefaultPerWriteTimeout {
		t.Errorf("perWriteTimeout() = %v, want %v", o.perWriteTimeout(), DefaultPerWriteTimeout)
	}
	if o.maxBufferedOutput() != DefaultMaxBufferedOutput {
		t.Errorf("maxBufferedOutput() = %v, want %v", o.maxBufferedOutput(), DefaultMaxBufferedOutput)
	}
}

func TestOptionsHonorsExplicitValues(t *testing.T) {
	o := Options{Timeout: 5, PerWriteTimeout: 7, MaxOutputBytes: 9}
	if o.timeout() != 5 || o.perWriteTimeout() != 7 || o.maxBufferedOutput() != 9 {
		t.Fatalf("explicit options not honored: %+v", o)
	}
}
