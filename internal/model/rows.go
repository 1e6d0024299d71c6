package model

// DataRow is a row of the data table.
type DataRow struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RecordDate  string  `gorm:"column:record_date;index"`
	Temperature float64 `gorm:"column:temperature"`
	Humidity    float64 `gorm:"column:humidity"`
	Location    string  `gorm:"column:location"`
	DeviceName  string  `gorm:"column:device_name"`
}

func (DataRow) TableName() string { return "data" }

// Entry converts the row into a response entry.
func (r DataRow) Entry() Entry {
	return Entry{
		ID:          r.ID,
		RecordDate:  r.RecordDate,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Location:    r.Location,
		DeviceName:  r.DeviceName,
	}
}

// StatRow is a persisted counter.
type StatRow struct {
	Name        string `gorm:"column:name;primaryKey"`
	DisplayName string `gorm:"column:display_name"`
	Value       int64  `gorm:"column:value;default:0"`
}

func (StatRow) TableName() string { return "stats" }
