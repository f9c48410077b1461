package services

import "github.com/sirupsen/logrus"

func quietTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}
