package policy

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
)

func observation(sentiment, momentum []float64) []float64 {
	n := len(momentum)
	obs := make([]float64, 0, 5*n+1)
	for i := 0; i < n; i++ {
		obs = append(obs, 100)
	}
	for i := 0; i < n; i++ {
		obs = append(obs, 5000)
	}
	obs = append(obs, sentiment...)
	obs = append(obs, momentum...)
	for i := 0; i < n; i++ {
		obs = append(obs, 0)
	}
	return append(obs, 400)
}

func TestMomentumFollowsDirection(t *testing.T) {
	p := NewMomentum(3, 20, 2, 2)
	out, err := p.Predict(context.Background(), observation([]float64{0.5, 0.5, 0.5}, []float64{0.05, -0.05, 0}))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(out) != 6 {
		t.Fatalf("expected 6 values, got %d", len(out))
	}
	if want := math.Tanh(1); math.Abs(out[0]-want) > 1e-12 {
		t.Fatalf("expected type %v, got %v", want, out[0])
	}
	if math.Abs(out[1]-0.1) > 1e-12 {
		t.Fatalf("expected fraction 0.1, got %v", out[1])
	}
	if out[2] >= 0 || out[3] <= 0 {
		t.Fatalf("expected sell signal with positive fraction, got %v %v", out[2], out[3])
	}
	if out[4] != 0 || out[5] != 0 {
		t.Fatalf("expected flat output on zero momentum, got %v %v", out[4], out[5])
	}
}

func TestMomentumSentimentTiltAndFractionClamp(t *testing.T) {
	p := NewMomentum(1, 20, 2, 2)
	out, err := p.Predict(context.Background(), observation([]float64{1}, []float64{0.9}))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if out[1] != 1 {
		t.Fatalf("expected fraction clamped to 1, got %v", out[1])
	}
	bearish, _ := p.Predict(context.Background(), observation([]float64{0}, []float64{0}))
	if bearish[0] >= 0 {
		t.Fatalf("expected negative sentiment to tilt toward selling, got %v", bearish[0])
	}
}

func TestMomentumIsDeterministic(t *testing.T) {
	p := NewMomentum(2, 20, 2, 2)
	obs := observation([]float64{0.6, 0.4}, []float64{0.02, -0.01})
	a, _ := p.Predict(context.Background(), obs)
	b, _ := p.Predict(context.Background(), obs)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical outputs, got %v and %v", a, b)
	}
}

func TestMomentumRejectsWrongShape(t *testing.T) {
	p := NewMomentum(3, 20, 2, 2)
	if _, err := p.Predict(context.Background(), make([]float64, 10)); !errors.Is(err, ErrObservationShape) {
		t.Fatalf("expected ErrObservationShape, got %v", err)
	}
}

func TestNewONNXRequiresModel(t *testing.T) {
	if _, err := NewONNX(ONNXConfig{Assets: 3}); err == nil {
		t.Fatalf("expected error without model path")
	}
}
