package sink

import (
	"strings"
	"time"

	"github.com/blive-rec/blive/internal/engine/types"
	"github.com/blive-rec/blive/internal/utils"
)

const (
	datetimeLayout = "2006-01-02 15点04分"
	dateLayout     = "2006-01-02"

	// titleRunes is how much of the room title {room_title} keeps
	titleRunes = 10
)

// RenderFilename fills a filename template from room. Supported
// placeholders: {up_name} {room_id} {room_title} {room_area_name} {date}
// {datetime}. Unknown placeholders are left as written. The live start time
// is used for dates, falling back to now for rooms without one.
func RenderFilename(template string, room types.Room, now time.Time) string {
	if template == "" {
		template = types.DefaultFilenameTemplate
	}
	at := room.LiveTime
	if at.IsZero() {
		at = now
	}

	title := []rune(room.Title)
	if len(title) > titleRunes {
		title = title[:titleRunes]
	}

	r := strings.NewReplacer(
		"{up_name}", room.UpName,
		"{room_id}", room.ID,
		"{room_title}", string(title),
		"{room_area_name}", room.AreaName,
		"{date}", at.Format(dateLayout),
		"{datetime}", at.Format(datetimeLayout),
	)
	return utils.SanitizeFilename(r.Replace(template))
}
