package dispatch

// TranslateMove implements the move_car -> BLE drive parameter table
// (§4.5). x passes through unchanged (already range-checked by the
// caller); boost overrides speed to 100 and sets decay to 1 regardless
// of direction.
func TranslateMove(move string, x int, boost bool) (driveX, driveY, speed, decay int) {
	driveX = x

	switch move {
	case "forward":
		driveY = 50
		speed = 50
	case "backward":
		driveY = -50
		speed = 50
	case "stopped":
		driveY = 0
		speed = 0
	}

	if boost {
		speed = 100
		decay = 1
	}

	return driveX, driveY, speed, decay
}
