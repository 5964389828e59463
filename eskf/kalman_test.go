package eskf

import "testing"

func TestImplementsMotionModel(t *testing.T) {
	implements := func(MotionModel) {}
	implements(new(InertialModel))
	implements(randomWalk{})
}

func TestImplementsMotionInput(t *testing.T) {
	implements := func(MotionInput) {}
	implements(IMUSample{})
	implements(new(IMUSample))
}
