package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "AFLOW_DATABASE_TYPE"
const DATABASE_URL = "AFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "AFLOW_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "AFLOW_ENGINE_SERVER_WEB_PORT"
const ENGINE_SLA_SCAN_INTERVAL = "AFLOW_ENGINE_SLA_SCAN_INTERVAL"
const ENGINE_SLA_SCAN_BATCH_SIZE = "AFLOW_ENGINE_SLA_SCAN_BATCH_SIZE" //max instances inspected per scan pass

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}

	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == ENGINE_SLA_SCAN_INTERVAL {
		return "60s" // default to one minute between scans
	}
	if settingKey == ENGINE_SLA_SCAN_BATCH_SIZE {
		return "100"
	}
	if settingKey == ENGINE_SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./approvalflow.db"
	}
	return ""
}
