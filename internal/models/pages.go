package models

import "fmt"

// Reader-facing page paths, relative to the site URL.

func StoryPagePath(id uint) string {
	return fmt.Sprintf("/publisher/story/%d/", id)
}

func VacancyPagePath(id uint) string {
	return fmt.Sprintf("/publisher/vacancy_page/%d/", id)
}

func NoticePagePath(id uint) string {
	return fmt.Sprintf("/publisher/notice_page/%d/", id)
}
