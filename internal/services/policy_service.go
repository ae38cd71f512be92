package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vigilhq/vigil/internal/database"

	"gorm.io/gorm"
)

// PolicyService owns per-team escalation policies
type PolicyService struct {
	db *gorm.DB
}

// NewPolicyService creates a new policy service
func NewPolicyService(db *gorm.DB) *PolicyService {
	return &PolicyService{db: db}
}

// ListPolicies returns all policies ordered by team
func (s *PolicyService) ListPolicies() ([]database.EscalationPolicy, error) {
	var policies []database.EscalationPolicy
	err := s.db.Order("team ASC").Find(&policies).Error
	return policies, err
}

// GetPolicyByTeam returns a team's escalation policy
func (s *PolicyService) GetPolicyByTeam(team string) (*database.EscalationPolicy, error) {
	var policy database.EscalationPolicy
	if err := s.db.Where("team = ?", team).First(&policy).Error; err != nil {
		return nil, err
	}
	return &policy, nil
}

// CreatePolicy validates and persists a policy, replacing any existing
// policy for the team wholesale.
func (s *PolicyService) CreatePolicy(policy *database.EscalationPolicy) error {
	if err := ValidatePolicyLevels(policy.Levels); err != nil {
		return err
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("team = ?", policy.Team).Delete(&database.EscalationPolicy{}).Error; err != nil {
			return err
		}
		return tx.Create(policy).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save policy for team %s: %w", policy.Team, err)
	}
	return nil
}

// DeletePolicy removes a team's policy. Returns gorm.ErrRecordNotFound when
// the team has none.
func (s *PolicyService) DeletePolicy(team string) error {
	result := s.db.Where("team = ?", team).Delete(&database.EscalationPolicy{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ValidatePolicyLevels checks a level chain: contiguous numbering from 1,
// positive waits, and targets that are either a known kind or an address.
func ValidatePolicyLevels(levels database.PolicyLevelList) error {
	if len(levels) == 0 {
		return errors.New("policy requires at least one level")
	}
	for i, level := range levels {
		if level.Level != i+1 {
			return fmt.Errorf("levels must be numbered 1..%d in order, got %d at position %d", len(levels), level.Level, i+1)
		}
		if level.WaitMinutes < 1 {
			return fmt.Errorf("level %d: wait_minutes must be positive", level.Level)
		}
		switch level.NotifyTarget {
		case database.NotifyTargetSecondary, database.NotifyTargetManager:
		case "":
			return fmt.Errorf("level %d: notify_target is required", level.Level)
		default:
			if !strings.Contains(level.NotifyTarget, "@") {
				return fmt.Errorf("level %d: notify_target must be %q, %q or an email address",
					level.Level, database.NotifyTargetSecondary, database.NotifyTargetManager)
			}
		}
	}
	return nil
}

// policyFile is the YAML shape of the optional POLICY_FILE bootstrap
type policyFile struct {
	Policies []struct {
		Team   string `yaml:"team"`
		Levels []struct {
			Level        int    `yaml:"level"`
			WaitMinutes  int    `yaml:"wait_minutes"`
			NotifyTarget string `yaml:"notify_target"`
		} `yaml:"levels"`
	} `yaml:"policies"`
}

// BootstrapFromFile loads escalation policies from a YAML file. Create-only:
// teams that already have a policy are left untouched, so operator edits
// survive restarts.
func (s *PolicyService) BootstrapFromFile(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}

	created := 0
	for _, p := range file.Policies {
		var count int64
		s.db.Model(&database.EscalationPolicy{}).Where("team = ?", p.Team).Count(&count)
		if count > 0 {
			continue
		}

		levels := make(database.PolicyLevelList, 0, len(p.Levels))
		for _, l := range p.Levels {
			levels = append(levels, database.PolicyLevel{
				Level:        l.Level,
				WaitMinutes:  l.WaitMinutes,
				NotifyTarget: l.NotifyTarget,
			})
		}
		if err := ValidatePolicyLevels(levels); err != nil {
			log.Printf("Warning: skipping bootstrap policy for team %s: %v", p.Team, err)
			continue
		}
		if err := s.db.Create(&database.EscalationPolicy{Team: p.Team, Levels: levels}).Error; err != nil {
			log.Printf("Warning: failed to create bootstrap policy for team %s: %v", p.Team, err)
			continue
		}
		created++
	}
	if created > 0 {
		log.Printf("Loaded %d escalation policies from %s", created, path)
	}
	return nil
}
