package models

// UserProfile is the durable per-user state. Machines keep insertion order,
// which is also the display order the conversational layer shows.
type UserProfile struct {
	Machines          []MachineRecord `json:"machines"`
	MonitoringEnabled bool            `json:"monitoringEnabled"`
	LastKnownTotal    *int            `json:"lastKnownTotal"`
	Blocked           bool            `json:"blocked"`
}

// MachineByID returns a pointer into Machines for the given id, or nil.
func (u *UserProfile) MachineByID(id string) *MachineRecord {
	for i := range u.Machines {
		if u.Machines[i].ID == id {
			return &u.Machines[i]
		}
	}
	return nil
}
