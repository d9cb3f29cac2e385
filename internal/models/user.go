package models

type User struct {
	BaseModel
	Username     string `json:"username" gorm:"type:varchar(20);uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"type:text;not null"`
	TOTPSecret   string `json:"-" gorm:"type:text"`
	TOTPEnabled  bool   `json:"totpEnabled" gorm:"not null;default:false"`

	Sessions           []Session           `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	PasskeyCredentials []PasskeyCredential `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}
