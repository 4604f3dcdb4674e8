package feature

import (
	"bytes"
	"encoding/gob"
	"errors"
	"math"
)

// Scaler standardizes feature vectors to zero mean and unit variance per
// column, matching the scaling the models are fitted against. A column with
// zero variance passes through unscaled.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes column means and standard deviations from training data.
func FitScaler(data [][]float64) (*Scaler, error) {
	if len(data) == 0 {
		return nil, errors.New("empty training data")
	}

	n := float64(len(data))
	dims := len(data[0])

	mean := make([]float64, dims)
	for _, row := range data {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}

	std := make([]float64, dims)
	for _, row := range data {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
	}

	return &Scaler{Mean: mean, Std: std}, nil
}

// Transform scales a single vector.
func (s *Scaler) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for j, x := range v {
		if s.Std[j] > 0 {
			out[j] = (x - s.Mean[j]) / s.Std[j]
		} else {
			out[j] = x - s.Mean[j]
		}
	}
	return out
}

// TransformAll scales a batch of vectors.
func (s *Scaler) TransformAll(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, v := range data {
		out[i] = s.Transform(v)
	}
	return out
}

// Encode serializes the scaler for persistence.
func (s *Scaler) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeScaler deserializes a persisted scaler.
func DecodeScaler(data []byte) (*Scaler, error) {
	var s Scaler
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
