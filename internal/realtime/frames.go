package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Emit while no connection is up.
var ErrNotConnected = errors.New("realtime: not connected")

// eventFrame is the wire shape of a delivered or emitted event.
type eventFrame struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// controlFrame carries room membership actions.
type controlFrame struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// AppealRoom names the room scoped to one appeal.
func AppealRoom(appealID int64) string {
	return fmt.Sprintf("appeal:%d", appealID)
}

// UserRoom names the room scoped to the viewer's own user id.
func UserRoom(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// DepartmentRoom names the room scoped to one department.
func DepartmentRoom(departmentID int64) string {
	return fmt.Sprintf("department:%d", departmentID)
}
