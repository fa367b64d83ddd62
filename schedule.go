package faqtune

// WarmupLinear is the learning-rate schedule of the run: the rate climbs
// linearly from zero over WarmupSteps, then decays linearly to zero at
// TotalSteps.
type WarmupLinear struct {
	BaseLR      float32
	WarmupSteps int
	TotalSteps  int
	step        int
}

// LR returns the learning rate for the given step index.
func (s *WarmupLinear) LR(step int) float32 {
	if s.WarmupSteps > 0 && step < s.WarmupSteps {
		return s.BaseLR * float32(step) / float32(s.WarmupSteps)
	}
	if step >= s.TotalSteps {
		return 0.0
	}
	remaining := float32(s.TotalSteps-step) / float32(max(s.TotalSteps-s.WarmupSteps, 1))
	return s.BaseLR * remaining
}

// Step advances the schedule by one optimizer step.
func (s *WarmupLinear) Step() {
	s.step++
}

// Current returns the rate at the schedule's current position.
func (s *WarmupLinear) Current() float32 {
	return s.LR(s.step)
}
