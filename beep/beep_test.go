package beep

import (
	"testing"

	"earshot/audio"
)

func TestGenerateTickDecays(t *testing.T) {
	s := generateTick(sampleRate, startFreq, 0.2, startVolume, startDecay)
	if len(s) != sampleRate/5 {
		t.Fatalf("len = %d, want %d", len(s), sampleRate/5)
	}
	peak := func(part []float32) float32 {
		var p float32
		for _, v := range part {
			if v < 0 {
				v = -v
			}
			p = max(p, v)
		}
		return p
	}
	head, rest := peak(s[:len(s)/10]), peak(s[len(s)/2:])
	if head > startVolume || head == 0 {
		t.Errorf("head peak %f out of range", head)
	}
	if rest >= head/10 {
		t.Errorf("tail peak %f did not decay from %f", rest, head)
	}
}

func TestDoubleBeepHasGap(t *testing.T) {
	s := generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)
	one := int(sampleRate * 0.08)
	gap := int(sampleRate * 0.05)
	if len(s) != 2*one+gap {
		t.Fatalf("len = %d, want %d", len(s), 2*one+gap)
	}
	for _, v := range s[one : one+gap] {
		if v != 0 {
			t.Fatal("gap is not silent")
		}
	}
}

func TestPlayWritesCue(t *testing.T) {
	fc := audio.NewFakeContext(nil, false)
	p := New(fc)
	p.PlayStart()
	p.PlayError()
	p.Wait()

	pbs := fc.Playbacks()
	if len(pbs) != 2 {
		t.Fatalf("playbacks = %d, want 2", len(pbs))
	}
	for _, pb := range pbs {
		if pb.SampleRate != sampleRate {
			t.Errorf("rate = %d", pb.SampleRate)
		}
		if pb.Written() == 0 {
			t.Error("nothing written")
		}
		if !pb.Closed() {
			t.Error("device left open")
		}
	}
}

func TestDisabledIsSilent(t *testing.T) {
	fc := audio.NewFakeContext(nil, false)
	p := New(fc)
	p.Disable()
	p.PlayEnd()
	p.Wait()
	if n := len(fc.Playbacks()); n != 0 {
		t.Fatalf("playbacks = %d, want 0", n)
	}
}

func TestNilContext(t *testing.T) {
	p := New(nil)
	p.PlayStart()
	p.Wait()
}
