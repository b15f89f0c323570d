package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

func TestBuildFlagFilterEmpty(t *testing.T) {
	got := buildFlagFilter(domain.SecurityFlagFilter{})
	assert.Empty(t, got)
}

func TestBuildFlagFilterTextFieldsUseCaseInsensitiveRegex(t *testing.T) {
	got := buildFlagFilter(domain.SecurityFlagFilter{
		IPAddress:      "203.0.113",
		Description:    "login",
		FileName:       "auth_service",
		AdditionalData: "username",
		DateText:       "2026-08",
	})

	assert.Equal(t, bson.M{"$regex": "203.0.113", "$options": "i"}, got["ip_address"])
	assert.Equal(t, bson.M{"$regex": "login", "$options": "i"}, got["description"])
	assert.Equal(t, bson.M{"$regex": "auth_service", "$options": "i"}, got["file_name"])
	assert.Equal(t, bson.M{"$regex": "username", "$options": "i"}, got["additional_data_text"])
	assert.Equal(t, bson.M{"$regex": "2026-08", "$options": "i"}, got["date_text"])
}

func TestBuildFlagFilterUserIdentityMatchesEitherIDField(t *testing.T) {
	got := buildFlagFilter(domain.SecurityFlagFilter{UserIdentity: "user-1"})

	identity := bson.M{"$regex": "user-1", "$options": "i"}
	assert.Equal(t, bson.A{
		bson.M{"user_id": identity},
		bson.M{"quartz_user_id": identity},
	}, got["$or"])
}

func TestBuildFlagFilterRiskLevelPrecedence(t *testing.T) {
	exact := buildFlagFilter(domain.SecurityFlagFilter{RiskLevel: domain.RiskHigh, MinRiskLevel: domain.RiskLow})
	assert.Equal(t, domain.RiskHigh, exact["risk_level"])

	floor := buildFlagFilter(domain.SecurityFlagFilter{MinRiskLevel: domain.RiskNotice})
	assert.Equal(t, bson.M{"$gte": domain.RiskNotice}, floor["risk_level"])
}

func TestBuildFlagFilterDateRange(t *testing.T) {
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	got := buildFlagFilter(domain.SecurityFlagFilter{FromDate: from, ToDate: to})
	assert.Equal(t, bson.M{"$gte": from, "$lte": to}, got["date_time"])

	resolved := true
	got = buildFlagFilter(domain.SecurityFlagFilter{Resolved: &resolved})
	assert.Equal(t, true, got["resolved"])
}

func TestSerializeAdditionalData(t *testing.T) {
	assert.Equal(t, "", serializeAdditionalData(nil))
	assert.Equal(t, "", serializeAdditionalData(map[string]any{}))

	got := serializeAdditionalData(map[string]any{"username": "martijn"})
	assert.Equal(t, `{"username":"martijn"}`, got)
}
