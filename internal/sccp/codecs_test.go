package sccp

import "testing"

func TestCodecMaskIntersect(t *testing.T) {
	phone := CodecMask(0).With(CodecUlaw).With(CodecAlaw).With(CodecG729A)
	line := CodecMask(0).With(CodecUlaw).With(CodecG723)

	got := phone.Intersect(line)
	if !got.Has(CodecUlaw) {
		t.Error("intersection should contain ulaw")
	}
	if got.Has(CodecAlaw) || got.Has(CodecG723) {
		t.Errorf("intersection = %s, want ulaw only", got)
	}
}

func TestBestCodec(t *testing.T) {
	tests := []struct {
		name  string
		mask  CodecMask
		prefs []Codec
		want  Codec
	}{
		{
			name:  "preference honoured",
			mask:  CodecMask(0).With(CodecUlaw).With(CodecG729A),
			prefs: []Codec{CodecG729A, CodecUlaw},
			want:  CodecG729A,
		},
		{
			name:  "preference missing falls back to canonical order",
			mask:  CodecMask(0).With(CodecUlaw).With(CodecAlaw),
			prefs: []Codec{CodecG723},
			want:  CodecAlaw,
		},
		{
			name: "empty mask",
			mask: 0,
			want: CodecNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BestCodec(tt.mask, tt.prefs); got != tt.want {
				t.Errorf("BestCodec = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name string
		want Codec
	}{
		{"ulaw", CodecUlaw},
		{"ALAW", CodecAlaw},
		{" g729 ", CodecG729A},
		{"opus", CodecNone},
	}
	for _, tt := range tests {
		if got := CodecByName(tt.name); got != tt.want {
			t.Errorf("CodecByName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFrameMS(t *testing.T) {
	if got := CodecG723.FrameMS(); got != 30 {
		t.Errorf("g723 frame = %d, want 30", got)
	}
	if got := CodecUlaw.FrameMS(); got != 20 {
		t.Errorf("ulaw frame = %d, want 20", got)
	}
}
