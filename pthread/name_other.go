//go:build !linux

package pthread

func currentTID() int { return 0 }

func setOSName(string) error { return nil }

func setOSNameOf(int, string) error { return nil }
