package shapespkg

type Shape interface {
	Area() float64
}

type Point struct {
	X float64
	Y float64
}
