package scheduling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleCapabilities(t *testing.T) {
	assert.False(t, RolePatient.Can(CapOverridePolicy))
	assert.False(t, RolePatient.Can(CapBookForOthers))
	assert.False(t, RolePatient.Can(CapGenerateSlots))

	assert.True(t, RoleDoctor.Can(CapOverridePolicy))
	assert.True(t, RoleDoctor.Can(CapManageAvailability))
	assert.False(t, RoleDoctor.Can(CapGenerateSlots))

	assert.True(t, RoleHSP.Can(CapManageAvailability))
	assert.False(t, RoleHSP.Can(CapOverridePolicy))

	for _, admin := range []Role{RoleSystemAdmin, RoleHospitalAdmin} {
		assert.True(t, admin.Can(CapOverridePolicy), admin)
		assert.True(t, admin.Can(CapGenerateSlots), admin)
		assert.True(t, admin.Can(CapBookForOthers), admin)
	}
}

func TestRoleKnown(t *testing.T) {
	assert.True(t, RolePatient.Known())
	assert.True(t, RoleHospitalAdmin.Known())
	assert.False(t, Role("SUPERUSER").Known())
	assert.False(t, Role("").Known())
}
