package core

import (
	"context"
	"fmt"
	"strings"

	"hospitalcore/pkg/domain"
)

// MRNPrefix starts every medical record number.
const MRNPrefix = "MRN"

// CreateUser adds a staff member.
func (s *Service) CreateUser(ctx context.Context, u domain.User) (*domain.User, error) {
	return mutate(ctx, s, "create_user", func(tx domain.Transaction) (*domain.User, error) {
		if err := required(domain.EntityUser, "", "name", u.Name); err != nil {
			return nil, err
		}
		if !knownRole(u.Role) {
			return nil, domain.ValidationError{Entity: domain.EntityUser, Field: "role", Message: fmt.Sprintf("%q is not a known role", u.Role)}
		}
		u.ID = ""
		u.DeactivatedAt = nil
		if err := normalizeEmail(tx, &u); err != nil {
			return nil, err
		}
		return save(tx, &u)
	})
}

// UpdateUser amends a staff member through fn. The id and deactivation time
// cannot be changed here.
func (s *Service) UpdateUser(ctx context.Context, id string, fn func(*domain.User)) (*domain.User, error) {
	return mutate(ctx, s, "update_user", func(tx domain.Transaction) (*domain.User, error) {
		u, err := load[*domain.User](tx, id)
		if err != nil {
			return nil, err
		}
		deactivated := u.DeactivatedAt
		fn(u)
		u.ID = id
		u.DeactivatedAt = deactivated
		if err := required(domain.EntityUser, id, "name", u.Name); err != nil {
			return nil, err
		}
		if !knownRole(u.Role) {
			return nil, domain.ValidationError{Entity: domain.EntityUser, ID: id, Field: "role", Message: fmt.Sprintf("%q is not a known role", u.Role)}
		}
		if err := normalizeEmail(tx, u); err != nil {
			return nil, err
		}
		return save(tx, u)
	})
}

// DeactivateUser retires a staff member. The user stays on file for the
// records that name them but no longer receives role notifications.
func (s *Service) DeactivateUser(ctx context.Context, id string) (*domain.User, error) {
	return mutate(ctx, s, "deactivate_user", func(tx domain.Transaction) (*domain.User, error) {
		u, err := load[*domain.User](tx, id)
		if err != nil {
			return nil, err
		}
		if !u.Active() {
			return nil, domain.ValidationError{Entity: domain.EntityUser, ID: id, Field: "deactivated_at", Message: "user is already deactivated"}
		}
		now := tx.Now()
		u.DeactivatedAt = &now
		return save(tx, u)
	})
}

// normalizeEmail lower-cases the address and rejects one held by another user.
func normalizeEmail(view domain.TransactionView, u *domain.User) error {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	u.Email = email
	if email == "" {
		return nil
	}
	for existing := range domain.Find(view, func(other *domain.User) bool { return other.Email == email && other.ID != u.ID }) {
		return domain.ValidationError{Entity: domain.EntityUser, ID: u.ID, Field: "email", Message: fmt.Sprintf("is already used by %s", existing.ID)}
	}
	return nil
}

// RegisterPatient adds a patient and assigns the next medical record number
// for the registration year.
func (s *Service) RegisterPatient(ctx context.Context, p domain.Patient) (*domain.Patient, error) {
	return mutate(ctx, s, "register_patient", func(tx domain.Transaction) (*domain.Patient, error) {
		if err := required(domain.EntityPatient, "", "first_name", p.FirstName); err != nil {
			return nil, err
		}
		if err := required(domain.EntityPatient, "", "last_name", p.LastName); err != nil {
			return nil, err
		}
		if err := validateInsurance("", p.Insurance); err != nil {
			return nil, err
		}
		p.ID = ""
		p.MRN = nextMRN(tx)
		return save(tx, &p)
	})
}

// UpdatePatient amends a patient through fn. The id and medical record number
// cannot be changed; patients are never deleted.
func (s *Service) UpdatePatient(ctx context.Context, id string, fn func(*domain.Patient)) (*domain.Patient, error) {
	return mutate(ctx, s, "update_patient", func(tx domain.Transaction) (*domain.Patient, error) {
		p, err := load[*domain.Patient](tx, id)
		if err != nil {
			return nil, err
		}
		mrn := p.MRN
		fn(p)
		p.ID = id
		p.MRN = mrn
		if err := validateInsurance(id, p.Insurance); err != nil {
			return nil, err
		}
		return save(tx, p)
	})
}

func nextMRN(tx domain.Transaction) string {
	prefix := fmt.Sprintf("%s-%d-", MRNPrefix, tx.Now().Year())
	highest := 0
	for p := range domain.Find(tx, func(p *domain.Patient) bool { return strings.HasPrefix(p.MRN, prefix) }) {
		var n int
		if _, err := fmt.Sscanf(strings.TrimPrefix(p.MRN, prefix), "%d", &n); err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s%05d", prefix, highest+1)
}

func validateInsurance(id string, ins *domain.InsuranceInfo) error {
	if ins == nil {
		return nil
	}
	if strings.TrimSpace(ins.Provider) == "" || strings.TrimSpace(ins.MembershipNumber) == "" {
		return domain.ValidationError{Entity: domain.EntityPatient, ID: id, Field: "insurance", Message: "needs both provider and membership number"}
	}
	return nil
}

func knownRole(r domain.Role) bool {
	switch r {
	case domain.RoleReceptionist, domain.RoleDoctor, domain.RoleNurse, domain.RoleLab, domain.RolePharmacy,
		domain.RoleCashier, domain.RoleInsuranceOfficer, domain.RoleOTCoordinator, domain.RolePhysicalTherapist,
		domain.RoleHR, domain.RoleAdmin:
		return true
	}
	return false
}
