package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cedarmint/cedar/config"
)

// SlackNotification posts an error report to the configured Slack
// webhook.
func SlackNotification(err error) {
	conf, confErr := config.Fetch()
	if confErr != nil {
		log.Println(confErr)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	payload := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Cedar 🚨",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, err.Error(), time.Now().Format(time.RFC822)))

	body, marshalErr := json.Marshal(&payload)
	if marshalErr != nil {
		log.Println(marshalErr)
		return
	}

	resp, postErr := http.Post(conf.Notification.Slack.WebhookUrl, "application/json", bytes.NewBuffer(body))
	if postErr != nil {
		log.Println(postErr)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()
}

// NotifyError reports a system error through every configured channel. It
// runs asynchronously so callers on the transaction path never block on
// delivery.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}
		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification(systemError)
		}
	}(systemError)
}
