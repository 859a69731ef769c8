package scheduling

type Role string

const (
	RolePatient       Role = "PATIENT"
	RoleDoctor        Role = "DOCTOR"
	RoleHSP           Role = "HSP"
	RoleSystemAdmin   Role = "SYSTEM_ADMIN"
	RoleHospitalAdmin Role = "HOSPITAL_ADMIN"
)

type Capability string

const (
	CapBookForOthers      Capability = "CAN_BOOK_FOR_OTHERS"
	CapOverridePolicy     Capability = "CAN_OVERRIDE_CANCELLATION_POLICY"
	CapManageAvailability Capability = "CAN_MANAGE_AVAILABILITY"
	CapGenerateSlots      Capability = "CAN_GENERATE_SLOTS"
)

// roleCapabilities is the single role-to-capability table. Operations declare
// the capability they require instead of checking role strings inline.
var roleCapabilities = map[Role]map[Capability]bool{
	RolePatient: {},
	RoleDoctor: {
		CapBookForOthers:      true,
		CapOverridePolicy:     true,
		CapManageAvailability: true,
	},
	RoleHSP: {
		CapBookForOthers:      true,
		CapManageAvailability: true,
	},
	RoleSystemAdmin: {
		CapBookForOthers:      true,
		CapOverridePolicy:     true,
		CapManageAvailability: true,
		CapGenerateSlots:      true,
	},
	RoleHospitalAdmin: {
		CapBookForOthers:      true,
		CapOverridePolicy:     true,
		CapManageAvailability: true,
		CapGenerateSlots:      true,
	},
}

func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}

func (r Role) Known() bool {
	_, ok := roleCapabilities[r]
	return ok
}
