package mood

import "testing"

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  Mood
		found bool
	}{
		{"anxious keyword", "I'm feeling really anxious about tomorrow", Anxious, true},
		{"case insensitive", "SO THANKFUL today", Grateful, true},
		{"no keyword", "What is the weather like?", "", false},
		{"more hits wins", "I feel alone, isolated and a bit sad", Lonely, true},
		{"tie keeps earlier mood", "sad and worried", Sad, true},
		{"tie across later moods", "mad but positive", Angry, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Classify(tt.input)
			if ok != tt.found || got != tt.want {
				t.Fatalf("Classify(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.found)
			}
		})
	}
}

func TestClassifyTieBreakIsDeterministic(t *testing.T) {
	t.Parallel()

	order := Order()
	if len(order) != 6 || order[0] != Sad || order[5] != Hopeful {
		t.Fatalf("unexpected mood order: %v", order)
	}

	for i := 0; i < 100; i++ {
		if got, _ := Classify("upset and nervous"); got != Sad {
			t.Fatalf("iteration %d: expected sad, got %q", i, got)
		}
	}
}

func TestDetectCrisis(t *testing.T) {
	t.Parallel()

	if !DetectCrisis("I want to die.") {
		t.Error("expected crisis for explicit phrase")
	}
	if !DetectCrisis("there is no reason to live anymore") {
		t.Error("expected crisis for severe pattern")
	}
	if DetectCrisis("I wanted to die laughing, thanks for the joke") {
		t.Error("positive indicator should suppress crisis detection")
	}
	if DetectCrisis("I had a hard day at school") {
		t.Error("mild distress is not a crisis")
	}
	if !IsMildDistress("I had a hard day at school") {
		t.Error("expected mild distress")
	}
}

func TestSupportResourcesReturnsCopy(t *testing.T) {
	t.Parallel()

	got := SupportResources(Anxious)
	if len(got) == 0 {
		t.Fatal("expected resources")
	}
	got[0] = "mutated"
	if SupportResources(Anxious)[0] == "mutated" {
		t.Fatal("SupportResources must not expose internal slices")
	}
}
