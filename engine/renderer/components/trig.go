package components

import m "math"

func sin(x float32) float32      { return float32(m.Sin(float64(x))) }
func cos(x float32) float32      { return float32(m.Cos(float64(x))) }
func asin(x float32) float64     { return m.Asin(float64(x)) }
func atan2(y, x float32) float64 { return m.Atan2(float64(y), float64(x)) }
